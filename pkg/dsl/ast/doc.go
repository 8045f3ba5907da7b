// Package ast defines the condition tree of the governance DSL.
//
// A condition is a tagged variant: either a Logical combinator (all, any,
// not) over child conditions, or a Comparator that tests one attribute of the
// evaluation context against a literal Value. The set of node types is closed,
// so evaluators and validators switch exhaustively over it instead of walking
// untyped maps.
//
// # Wire form
//
// Conditions are authored in a compact YAML/JSON form:
//
//	all:
//	  - eq: [category, "promotions"]
//	  - lt: [expires_at, "now"]
//	  - not:
//	      exists: starred
//
// See package parser for decoding and rendering.
//
// # Immutability
//
// Trees are treated as immutable once built. Evaluation reads them
// concurrently without locking.
package ast
