// Package clinref identifies clinical assignments across module boundaries.
// Results and scheduled appointments never hold a foreign key to an
// assignment table; they carry a (kind, id) Ref that is checked through a
// Registry when it is used.
package clinref

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindMedication        Kind = "medication"
	KindGeneralTreatment  Kind = "general_treatment"
	KindLabOrder          Kind = "lab_order"
	KindInstrumentalOrder Kind = "instrumental_order"
)

// Kinds lists every assignment kind in display order.
var Kinds = []Kind{KindMedication, KindGeneralTreatment, KindLabOrder, KindInstrumentalOrder}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown assignment kind %q", s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindMedication, KindGeneralTreatment, KindLabOrder, KindInstrumentalOrder:
		return true
	}
	return false
}

// IsOrder reports whether assignments of this kind are fulfilled by a
// result record (lab and instrumental orders).
func (k Kind) IsOrder() bool {
	return k == KindLabOrder || k == KindInstrumentalOrder
}

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// Ref is a tagged reference to one assignment.
type Ref struct {
	Kind Kind      `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID.String()
}

var ErrUnknownAssignment = errors.New("unknown assignment")

// Subject is what a Registry knows about a resolved reference.
type Subject struct {
	Ref       Ref
	PatientID uuid.UUID
	Status    Status
}

// LookupFunc resolves an id of one kind. It returns ErrUnknownAssignment
// (possibly wrapped) when nothing matches.
type LookupFunc func(ctx context.Context, id uuid.UUID) (*Subject, error)

// Registry maps each kind to its lookup.
type Registry struct {
	lookups map[Kind]LookupFunc
	locking map[Kind]LookupFunc
}

func NewRegistry() *Registry {
	return &Registry{
		lookups: make(map[Kind]LookupFunc),
		locking: make(map[Kind]LookupFunc),
	}
}

func (r *Registry) Register(kind Kind, fn LookupFunc) {
	r.lookups[kind] = fn
}

// RegisterLocking registers a lookup that holds the row lock until the
// surrounding transaction ends.
func (r *Registry) RegisterLocking(kind Kind, fn LookupFunc) {
	r.locking[kind] = fn
}

// Resolve checks that ref points at an existing assignment.
func (r *Registry) Resolve(ctx context.Context, ref Ref) (*Subject, error) {
	return resolve(ctx, r.lookups, ref)
}

// ResolveForUpdate is Resolve through the locking lookup. Callers that
// write on the strength of the returned status use it inside their
// transaction, so a concurrent transition waits for them to commit.
// Kinds without a locking lookup fall back to the plain one.
func (r *Registry) ResolveForUpdate(ctx context.Context, ref Ref) (*Subject, error) {
	if _, ok := r.locking[ref.Kind]; ok {
		return resolve(ctx, r.locking, ref)
	}
	return resolve(ctx, r.lookups, ref)
}

func resolve(ctx context.Context, lookups map[Kind]LookupFunc, ref Ref) (*Subject, error) {
	fn, ok := lookups[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no resolver for kind %q", ErrUnknownAssignment, ref.Kind)
	}
	subj, err := fn(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, ErrUnknownAssignment) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAssignment, ref)
		}
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return subj, nil
}

// LifecycleChanged is emitted inside the transaction that changed an
// assignment's status.
type LifecycleChanged struct {
	Ref       Ref       `json:"ref"`
	PatientID uuid.UUID `json:"patient_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}

// LifecycleListener receives LifecycleChanged. A returned error aborts the
// transition.
type LifecycleListener interface {
	OnLifecycleChanged(ctx context.Context, ev LifecycleChanged) error
}

// ListenerFunc adapts a function to LifecycleListener.
type ListenerFunc func(ctx context.Context, ev LifecycleChanged) error

func (f ListenerFunc) OnLifecycleChanged(ctx context.Context, ev LifecycleChanged) error {
	return f(ctx, ev)
}
