package changelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Source provides the declared changesets of a run, in declaration order.
//
// Implementations must return changesets built with New so that every
// checksum matches its queries.
type Source interface {
	Load(ctx context.Context) ([]Changeset, error)
}

// Static is a Source over an in-memory changelog.
type Static []Changeset

// Load returns a copy of the changesets.
func (s Static) Load(context.Context) ([]Changeset, error) {
	return append([]Changeset(nil), s...), nil
}

// FileSource loads a single changelog file. The format is chosen by
// extension: .yaml and .yml are YAML, .cue is CUE.
type FileSource struct {
	Path string
}

// LoadError describes a changelog file that could not be loaded.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads, decodes and validates the changelog file.
func (s FileSource) Load(ctx context.Context) ([]Changeset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &LoadError{Path: s.Path, Message: "read changelog", Err: err}
	}

	var doc rawChangelog
	switch ext := strings.ToLower(filepath.Ext(s.Path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &doc)
	case ".cue":
		err = decodeCUE(s.Path, data, &doc)
	default:
		return nil, &LoadError{Path: s.Path, Message: fmt.Sprintf("unsupported changelog format %q", ext)}
	}
	if err != nil {
		return nil, &LoadError{Path: s.Path, Message: "decode changelog", Err: err}
	}

	changesets, err := doc.build()
	if err != nil {
		return nil, &LoadError{Path: s.Path, Message: "build changesets", Err: err}
	}
	if err := Validate(changesets); err != nil {
		return nil, &LoadError{Path: s.Path, Message: "validate changesets", Err: err}
	}
	return changesets, nil
}

func decodeYAML(data []byte, doc *rawChangelog) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeCUE(path string, data []byte, doc *rawChangelog) error {
	cctx := cuecontext.New()
	v := cctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return err
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return v.Decode(doc)
}

// rawChangelog mirrors the file format shared by YAML and CUE.
type rawChangelog struct {
	Changesets []rawChangeset `yaml:"changesets" json:"changesets"`
}

type rawChangeset struct {
	ID            string           `yaml:"id" json:"id"`
	Author        string           `yaml:"author" json:"author"`
	Contexts      []string         `yaml:"contexts,omitempty" json:"contexts,omitempty"`
	RunAlways     bool             `yaml:"run-always,omitempty" json:"run-always,omitempty"`
	RunOnChange   bool             `yaml:"run-on-change,omitempty" json:"run-on-change,omitempty"`
	Precondition  *rawPrecondition `yaml:"precondition,omitempty" json:"precondition,omitempty"`
	Postcondition *rawQuery        `yaml:"postcondition,omitempty" json:"postcondition,omitempty"`
	Queries       []string         `yaml:"queries" json:"queries"`
}

type rawPrecondition struct {
	IfNotMet string     `yaml:"if-not-met" json:"if-not-met"`
	Query    string     `yaml:"query,omitempty" json:"query,omitempty"`
	And      []rawQuery `yaml:"and,omitempty" json:"and,omitempty"`
	Or       []rawQuery `yaml:"or,omitempty" json:"or,omitempty"`
}

type rawQuery struct {
	Query string     `yaml:"query,omitempty" json:"query,omitempty"`
	And   []rawQuery `yaml:"and,omitempty" json:"and,omitempty"`
	Or    []rawQuery `yaml:"or,omitempty" json:"or,omitempty"`
}

func (d rawChangelog) build() ([]Changeset, error) {
	out := make([]Changeset, 0, len(d.Changesets))
	for i, rc := range d.Changesets {
		def := Definition{
			ID:          rc.ID,
			Author:      rc.Author,
			Queries:     rc.Queries,
			Contexts:    rc.Contexts,
			RunAlways:   rc.RunAlways,
			RunOnChange: rc.RunOnChange,
		}
		if rc.Precondition != nil {
			policy, err := ParsePolicy(rc.Precondition.IfNotMet)
			if err != nil {
				return nil, fmt.Errorf("changeset #%d: %w", i+1, err)
			}
			q, err := rawQuery{Query: rc.Precondition.Query, And: rc.Precondition.And, Or: rc.Precondition.Or}.build()
			if err != nil {
				return nil, fmt.Errorf("changeset #%d precondition: %w", i+1, err)
			}
			def.Precondition = &Precondition{Policy: policy, Query: q}
		}
		if rc.Postcondition != nil {
			q, err := rc.Postcondition.build()
			if err != nil {
				return nil, fmt.Errorf("changeset #%d postcondition: %w", i+1, err)
			}
			def.Postcondition = &Postcondition{Query: q}
		}
		cs, err := New(def)
		if err != nil {
			return nil, fmt.Errorf("changeset #%d: %w", i+1, err)
		}
		out = append(out, cs)
	}
	return out, nil
}

// build converts a raw node. Exactly one of query, and, or must be set;
// and/or take exactly two operands.
func (r rawQuery) build() (Query, error) {
	set := 0
	if r.Query != "" {
		set++
	}
	if r.And != nil {
		set++
	}
	if r.Or != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("condition must set exactly one of query, and, or (got %d)", set)
	}

	switch {
	case r.Query != "":
		return Simple{Text: r.Query}, nil
	case r.And != nil:
		left, right, err := buildPair("and", r.And)
		if err != nil {
			return nil, err
		}
		return And{Left: left, Right: right}, nil
	default:
		left, right, err := buildPair("or", r.Or)
		if err != nil {
			return nil, err
		}
		return Or{Left: left, Right: right}, nil
	}
}

func buildPair(op string, nodes []rawQuery) (Query, Query, error) {
	if len(nodes) != 2 {
		return nil, nil, fmt.Errorf("%s needs exactly 2 operands, got %d", op, len(nodes))
	}
	left, err := nodes[0].build()
	if err != nil {
		return nil, nil, err
	}
	right, err := nodes[1].build()
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}
