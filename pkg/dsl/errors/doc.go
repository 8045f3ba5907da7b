// Package errors provides rich error types for condition parsing and
// validation.
//
// Errors carry the path of the offending node inside the condition tree
// (for example "all[1].not[0]") and an optional suggestion computed with
// Levenshtein distance against the known operator names. Multiple problems
// are accumulated in an ErrorList so an author sees every issue at once.
//
//	errs := errors.NewErrorList()
//	errs.AddErrorWithSuggestion(errors.ErrorTypeStructural, "unknown operator \"eqq\"",
//		"all[0]", errors.SuggestOperator("eqq"))
//	return errs.ToError()
package errors
