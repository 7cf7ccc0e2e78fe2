package linkage

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a linking-engine failure. Every error that crosses the
// package boundary is a *Error so callers can branch on the kind without
// string matching.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindUnknownReferenceType Kind = "unknown_reference_type"
	KindMissingIdentifier    Kind = "missing_identifier"
	KindConflict             Kind = "conflict"
	KindDependency           Kind = "dependency"
)

type Error struct {
	Kind    Kind
	Op      string   // failing step, set for dependency errors
	Fields  []string // offending fields/ids, when known
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}

func NewValidation(message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func NewNotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Fields: []string{id}}
}

// NewRolesNotFound reports role ids with no matching role record.
func NewRolesNotFound(missing []string) *Error {
	return &Error{Kind: KindNotFound, Message: "no role data for ids", Fields: missing}
}

func NewUnknownReferenceType(tag string, err error) *Error {
	return &Error{Kind: KindUnknownReferenceType, Message: fmt.Sprintf("no handler registered for reference type %q", tag), Fields: []string{tag}, Err: err}
}

func NewMissingIdentifier() *Error {
	return &Error{Kind: KindMissingIdentifier, Message: "either id or external_id is required", Fields: []string{"id", "external_id"}}
}

func NewConflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

// NewDependency wraps a collaborator failure with the failing step's name.
func NewDependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Err: err}
}
