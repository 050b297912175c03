// Package changelog defines the declared side of a migration: changesets,
// their condition trees and the execution contexts that filter them.
//
// A Changeset is one named unit of migration work: an ordered list of
// queries identified by the pair (id, author). Its checksum is derived from
// the queries at construction time (see Fingerprint) and cannot be set to a
// value inconsistent with them. Changesets read back from history are
// rebuilt with Restore, which keeps whatever checksum was persisted.
//
// # Condition Trees
//
// Preconditions and postconditions carry a Query tree. Query is a sealed
// interface: only Simple, And and Or implement it, so consumers can switch
// over the variants exhaustively.
//
//	And{
//	  Left:  Simple{Text: "SELECT count(*) = 0 AS result FROM nodes"},
//	  Right: Or{Left: ..., Right: ...},
//	}
//
// renders as ((SELECT ...) AND ((...) OR (...))).
//
// # Changelog Files
//
// FileSource loads a changelog from YAML (.yaml, .yml) or CUE (.cue). Both
// formats describe the same document:
//
//	changesets:
//	  - id: create-people
//	    author: alice
//	    contexts: [dev]
//	    precondition:
//	      if-not-met: MARK_AS_EXECUTED
//	      query: SELECT count(*) = 0 AS result FROM nodes WHERE label = 'Person'
//	    queries:
//	      - INSERT INTO nodes(label, name) VALUES ('Person', 'Ada')
package changelog
