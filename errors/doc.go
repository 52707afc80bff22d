// Package errors provides structured error types for the dllpack library.
//
// Errors are categorized by Phase (where in the pack/load pipeline the
// error occurred) and Kind (error category). Every error carries the
// identity of the offending graph node or blob hash, so a failure deep
// inside a bundle is never surfaced anonymously.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseFetch, errors.KindIntegrity).
//		Hash("bafkrei...").
//		Detail("blob corrupted in transit").
//		Build()
//
// Or use convenience constructors for the common taxonomy:
//
//	err := errors.InspectionUnsupported("aarch64-apple-darwin")
//	err := errors.NoCompatibleVariant("libadder", "x86_64-unknown-linux-gnu")
//	err := errors.NewCycleError([]string{"a.so", "b.so"})
//
// All errors implement the standard error interface and support
// errors.Is/As. CycleError additionally matches any *Error with
// KindCyclicDependency.
package errors
