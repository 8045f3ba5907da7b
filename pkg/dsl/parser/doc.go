// Package parser decodes and renders conditions in the compact wire form.
//
// The form is a single-key map per node:
//
//	{all: [cond, ...]}
//	{any: [cond, ...]}
//	{not: cond}            or {not: [cond]}
//	{eq: [field, value]}   likewise neq, lt, lte, gt, gte, in, regex
//	{exists: field}
//
// A comparator map may carry an optional numeric "weight" key used by
// confidence scoring. Input may be YAML or JSON; Render produces plain Go
// values that encode back to the same form, so
// Build(Render(c)) reconstructs an identical tree.
package parser
