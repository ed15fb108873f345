// Package variable defines the identity primitives shared by every other
// package in this module: the (namespace, name) pair that names a signal,
// scale, or dataset, and the scope path that locates it within nested group
// marks.
//
// These types are the ordering/hash primitives the rest of the engine keys
// maps and graph nodes on, so equality and hashing must be stable both
// within a process and across processes (see fingerprint.Hasher). They
// carry no behavior beyond identity and validation.
package variable

import (
	"fmt"
	"strings"

	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/fingerprint"
)

// Namespace distinguishes the three kinds of name a chart spec can declare.
// The same name may be declared in all three namespaces at the same scope
// simultaneously; Namespace is part of a Variable's identity, not just a
// label.
type Namespace int

const (
	// Signal identifies a named scalar value, often interaction-driven.
	Signal Namespace = iota
	// Scale identifies a mapping from data values to visual channels.
	Scale
	// Data identifies a named dataset.
	Data
)

func (n Namespace) String() string {
	switch n {
	case Signal:
		return "signal"
	case Scale:
		return "scale"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("Namespace(%d)", int(n))
	}
}

// Variable is an unscoped (namespace, name) pair.
type Variable struct {
	Namespace Namespace
	Name      string
}

// New constructs a Variable, failing with diagnostics.InvalidInput if name
// contains a colon - colons are reserved as the separator between a
// dataset name and one of its data-derived signal outputs (see
// "datasetA:my_extent" syntax in TaskScope.Resolve).
func New(ns Namespace, name string) (Variable, error) {
	if strings.Contains(name, ":") {
		return Variable{}, diagnostics.InvalidInputf("variable name %q may not contain ':'", name)
	}
	return Variable{Namespace: ns, Name: name}, nil
}

// MustNew is New, panicking on error. Reserved for call sites constructing
// variables from names that are already known to be valid, such as names
// that have already round-tripped through New once.
func MustNew(ns Namespace, name string) Variable {
	v, err := New(ns, name)
	if err != nil {
		panic(err)
	}
	return v
}

// NewSignal constructs a Signal-namespaced Variable.
func NewSignal(name string) (Variable, error) { return New(Signal, name) }

// NewScale constructs a Scale-namespaced Variable.
func NewScale(name string) (Variable, error) { return New(Scale, name) }

// NewData constructs a Data-namespaced Variable.
func NewData(name string) (Variable, error) { return New(Data, name) }

func (v Variable) String() string {
	return fmt.Sprintf("%s(%s)", v.Namespace, v.Name)
}

// WriteTo feeds v's identity into h in the fixed order (namespace, name),
// for use by fingerprint.Hasher consumers building up a task's
// id_fingerprint or state_fingerprint.
func (v Variable) WriteTo(h *fingerprint.Hasher) {
	h.WriteInt(int(v.Namespace))
	h.WriteString(v.Name)
}

// Scope is the path of group-mark indices identifying a level of nesting.
// An empty (or nil) scope is the top level; [0, 1] is "the first group mark
// at top level, then its second nested group mark". Scope values are
// compared and hashed by element, so two scopes built independently with
// equal elements are equal.
type Scope []uint32

// String renders a scope as e.g. "[0,1]" for diagnostics and debug output.
func (s Scope) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", v)
	}
	b.WriteByte(']')
	return b.String()
}

// Equal reports whether s and other identify the same scope path.
func (s Scope) Equal(other Scope) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// WriteTo feeds s's elements into h, length-prefixed.
func (s Scope) WriteTo(h *fingerprint.Hasher) {
	h.WriteInt(len(s))
	for _, v := range s {
		h.WriteUint64(uint64(v))
	}
}

// Clone returns a copy of s that shares no backing array with it, so that
// callers building up nested scopes by appending can do so without
// aliasing a parent's slice.
func (s Scope) Clone() Scope {
	if len(s) == 0 {
		return nil
	}
	cp := make(Scope, len(s))
	copy(cp, s)
	return cp
}

// Child returns a new scope with index appended, without modifying s.
func (s Scope) Child(index uint32) Scope {
	cp := make(Scope, len(s)+1)
	copy(cp, s)
	cp[len(s)] = index
	return cp
}

// IsDescendantOf reports whether s is a (non-strict) descendant of
// ancestor: ancestor's elements are a prefix of s's.
func (s Scope) IsDescendantOf(ancestor Scope) bool {
	if len(ancestor) > len(s) {
		return false
	}
	for i := range ancestor {
		if s[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// Scoped is a Variable qualified by the Scope at which it was declared or
// is being used. It is the canonical key used everywhere inter-task
// identity is needed: TaskScope resolution returns one, TaskGraph nodes are
// keyed by one, and the comm plan lists them.
type Scoped struct {
	Var   Variable
	Scope Scope
}

// NewScoped composes a Variable with a Scope.
func NewScoped(v Variable, scope Scope) Scoped {
	return Scoped{Var: v, Scope: scope}
}

func (sv Scoped) String() string {
	return fmt.Sprintf("%s@%s", sv.Var, sv.Scope)
}

// WriteTo feeds sv's identity into h.
func (sv Scoped) WriteTo(h *fingerprint.Hasher) {
	sv.Var.WriteTo(h)
	sv.Scope.WriteTo(h)
}

// Key returns a comparable value suitable for use as a map key. Scope is a
// slice and so Scoped itself is not comparable with ==; Key flattens it to
// a string that is stable for equal (namespace, name, scope) triples.
func (sv Scoped) Key() ScopedKey {
	return ScopedKey{
		namespace: sv.Var.Namespace,
		name:      sv.Var.Name,
		scope:     sv.Scope.String(),
	}
}

// ScopedKey is the comparable, hashable form of Scoped suitable for use as
// a Go map key.
type ScopedKey struct {
	namespace Namespace
	name      string
	scope     string
}
