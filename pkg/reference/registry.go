// Package reference holds the typed reference-type registry. A reference is
// an arbitrary domain entity identified by (type, id); each configured type
// tag maps to a handler that owns normalization and persistence of that
// reference's payload.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrEmptyTag is returned when an empty reference-type tag is provided.
	ErrEmptyTag = errors.New("reference(registry): empty tag provided")
	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("reference(registry): nil handler provided")
	// ErrConflictingRegistration indicates an attempt to re-register a tag
	// with a different handler.
	ErrConflictingRegistration = errors.New("reference(registry): conflicting handler registration")
)

// UnknownTypeError is returned when a reference payload was supplied for a
// tag with no registered handler. This is a configuration error, never
// silently ignored.
type UnknownTypeError struct {
	Tag string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("reference(registry): no handler registered for type %q", e.Tag)
}

// Handle is what a handler's Store reports back to the link store service.
// ReferenceID identifies the persisted reference. When the reference is
// already bound to an existing link, the handler reports that link's id and
// external id so the subsequent upsert updates in place instead of
// duplicating.
type Handle struct {
	ReferenceID    string
	LinkID         string
	LinkExternalID string
}

// Handler is the capability a reference type registers: pure payload
// normalization and persistence of the reference entity itself.
type Handler interface {
	Normalize(ctx context.Context, payload map[string]any) (map[string]any, error)
	Store(ctx context.Context, payload map[string]any) (Handle, error)
}

// Loader is an optional handler capability used by show-time eager loading.
type Loader interface {
	Load(ctx context.Context, referenceID string) (map[string]any, error)
}

// Registry maps canonical reference-type tags to handlers. It is populated at
// process start and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates the canonical form of tag with the given handler.
// It is idempotent for the same (tag, handler) pair.
func (r *Registry) Register(tag string, h Handler) error {
	if tag == "" {
		return ErrEmptyTag
	}
	if h == nil {
		return ErrNilHandler
	}

	canonical := CanonicalTag(tag)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.handlers[canonical]; ok {
		if old == h {
			return nil // idempotent re-registration
		}
		return ErrConflictingRegistration
	}

	r.handlers[canonical] = h
	return nil
}

// Handler returns the handler for a tag (canonicalized before lookup).
func (r *Registry) Handler(tag string) (Handler, error) {
	canonical := CanonicalTag(tag)

	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[canonical]
	if !ok {
		return nil, &UnknownTypeError{Tag: canonical}
	}
	return h, nil
}

// Tags returns a sorted snapshot of the registered canonical tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
