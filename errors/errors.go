package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the pack/load pipeline the error occurred
type Phase string

const (
	PhaseInspect  Phase = "inspect"  // binary dependency inspection
	PhaseGraph    Phase = "graph"    // dependency graph construction
	PhasePack     Phase = "pack"     // content-addressed packing
	PhaseManifest Phase = "manifest" // bundle manifest encode/decode
	PhaseFetch    Phase = "fetch"    // bundle/blob retrieval
	PhaseResolve  Phase = "resolve"  // variant selection and ordering
	PhaseLoad     Phase = "load"     // dynamic module loading
	PhaseSymbol   Phase = "symbol"   // symbol lookup on a live handle
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupported         Kind = "inspection_unsupported"
	KindCyclicDependency    Kind = "cyclic_dependency"
	KindPayloadUnreadable   Kind = "payload_unreadable"
	KindIntegrity           Kind = "integrity"
	KindNoCompatibleVariant Kind = "no_compatible_variant"
	KindSymbolNotFound      Kind = "symbol_not_found"
	KindVersionUnsupported  Kind = "version_unsupported"
	KindInvalidData         Kind = "invalid_data"
	KindNotFound            Kind = "not_found"
	KindClosed              Kind = "closed"
	KindIO                  Kind = "io"
)

// Error is the structured error type used throughout the library.
// Node and Hash carry the identity of the offending graph node or blob
// so failures are never surfaced anonymously.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Node   string
	Hash   string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Node != "" {
		b.WriteString(" node ")
		b.WriteString(e.Node)
	}
	if e.Hash != "" {
		b.WriteString(" blob ")
		b.WriteString(e.Hash)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by phase and kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Node sets the offending node identity
func (b *Builder) Node(node string) *Builder {
	b.err.Node = node
	return b
}

// Hash sets the offending blob hash
func (b *Builder) Hash(hash string) *Builder {
	b.err.Hash = hash
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InspectionUnsupported reports that the current host lacks the
// introspection capability for the given target.
func InspectionUnsupported(triple string) *Error {
	return &Error{
		Phase:  PhaseInspect,
		Kind:   KindUnsupported,
		Detail: fmt.Sprintf("no dependency inspector for target %q on this host", triple),
	}
}

// PayloadUnreadable reports a payload that vanished or became unreadable
// between inspection and hashing.
func PayloadUnreadable(node, path string, cause error) *Error {
	return &Error{
		Phase:  PhasePack,
		Kind:   KindPayloadUnreadable,
		Node:   node,
		Detail: fmt.Sprintf("payload %q unreadable", path),
		Cause:  cause,
	}
}

// Integrity reports a content hash mismatch. The wanted hash is recorded
// on the error so the corrupt source can be identified.
func Integrity(phase Phase, wanted, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIntegrity,
		Hash:   wanted,
		Detail: fmt.Sprintf("content hash mismatch: got %s", got),
	}
}

// NoCompatibleVariant reports that a variant set offers nothing loadable
// on the requesting platform.
func NoCompatibleVariant(name, triple string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindNoCompatibleVariant,
		Node:   name,
		Detail: fmt.Sprintf("no variant loadable on %s and no wasm fallback", triple),
	}
}

// SymbolNotFound reports a failed symbol lookup. Non-fatal to the handle.
func SymbolNotFound(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseSymbol,
		Kind:   KindSymbolNotFound,
		Detail: fmt.Sprintf("symbol %q not found", name),
		Cause:  cause,
	}
}

// VersionUnsupported reports a manifest spec version this reader cannot parse.
func VersionUnsupported(version string) *Error {
	return &Error{
		Phase:  PhaseManifest,
		Kind:   KindVersionUnsupported,
		Detail: fmt.Sprintf("unsupported spec version %q", version),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Closed reports use of a released handle or store.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is released", what),
	}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// CycleError is returned when dependency traversal finds a true back-edge.
// Native dynamic-link graphs are acyclic by platform contract, so a cycle
// indicates corrupt input or loader misconfiguration, not a condition to
// silently break.
type CycleError struct {
	// Nodes lists the cycle in traversal order; the last entry links
	// back to the first.
	Nodes []string
}

// NewCycleError creates a CycleError from the nodes on the cycle
func NewCycleError(nodes []string) *CycleError {
	return &CycleError{Nodes: nodes}
}

func (e *CycleError) Error() string {
	if len(e.Nodes) == 0 {
		return "[graph] cyclic_dependency: cycle detected"
	}

	var b strings.Builder
	b.WriteString("[graph] cyclic_dependency: ")
	for _, n := range e.Nodes {
		b.WriteString(n)
		b.WriteString(" -> ")
	}
	b.WriteString(e.Nodes[0])
	return b.String()
}

// Is reports whether target matches this error type
func (e *CycleError) Is(target error) bool {
	if _, ok := target.(*CycleError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == KindCyclicDependency
	}
	return false
}
