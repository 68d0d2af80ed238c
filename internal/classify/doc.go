// Package classify maps a file onto one of a closed set of categories and
// the primary action for that category.
//
// Classify is pure: the same Signals always produce the same Result. The
// extension tables decide whenever they know an extension; Inspect sniffs
// magic numbers and structured-data well-formedness only for files the
// tables do not cover.
package classify
