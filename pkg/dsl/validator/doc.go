// Package validator checks condition trees before they are saved into a
// draft bundle.
//
// Validation is structural and literal-level: known operators, child counts,
// field names, literal types per operator, regex compilation and nesting
// depth. Every problem found is reported, not only the first.
package validator
