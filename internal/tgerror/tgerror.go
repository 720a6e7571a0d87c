// Package tgerror implements the structured error value described in
// spec §7: a kind tag, an ordered values map, an optional chained source,
// and an optional stack of capture locations.
//
// The original implementation builds these with a macro,
// tg::error!(!source, %field, "message"); in Go a small builder function
// is the idiomatic equivalent (spec §9 design note).
package tgerror

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind is the error taxonomy from spec §7.
type Kind string

const (
	NotFound    Kind = "not-found"
	InvalidData Kind = "invalid-data"
	IO          Kind = "io"
	Conflict    Kind = "conflict"
	Cycle       Kind = "cycle"
	Overflow    Kind = "overflow"
	Canceled    Kind = "canceled"
	Panic       Kind = "panic"
	Remote      Kind = "remote"
)

// Location is one captured call site, recorded only when debug locations
// are enabled (advanced.internal_error_locations).
type Location struct {
	File string
	Line int
}

func (l Location) String() string { return fmt.Sprintf("%s:%d", l.File, l.Line) }

// Error is tangram's structured error value. It implements error and
// Unwrap so it composes with errors.Is / errors.As.
type Error struct {
	Kind    Kind
	Message string
	// Values preserves insertion order for rendering, per spec §7
	// ("Multiple causes are printed in their arrival order").
	Values     []KeyValue
	Source     error
	Stack      []Location
	captureLoc bool
}

// KeyValue is one entry of the error's ordered values map.
type KeyValue struct {
	Key   string
	Value string
}

// Option configures a new Error in New.
type Option func(*Error)

// WithSource chains a causing error, equivalent to `!source` in the
// original macro invocation.
func WithSource(err error) Option {
	return func(e *Error) { e.Source = err }
}

// WithValue attaches one ordered diagnostic field, equivalent to `%field`.
func WithValue(key string, value any) Option {
	return func(e *Error) {
		e.Values = append(e.Values, KeyValue{Key: key, Value: fmt.Sprint(value)})
	}
}

// WithLocation captures the caller's file:line, gated by the caller on
// the advanced.internal_error_locations config bit.
func WithLocation() Option {
	return func(e *Error) { e.captureLoc = true }
}

// New builds a structured error. kind classifies it per the §7 taxonomy;
// msg is used verbatim as the message.
func New(kind Kind, msg string, opts ...Option) *Error {
	e := &Error{Kind: kind, Message: msg}
	for _, opt := range opts {
		opt(e)
	}
	if e.captureLoc {
		if _, file, line, ok := runtime.Caller(1); ok {
			e.Stack = append(e.Stack, Location{File: file, Line: line})
		}
	}
	if src, ok := e.Source.(*Error); ok {
		// Fold the source's stack onto ours so a chain of internal errors
		// renders as one ordered stack, arrival order preserved.
		e.Stack = append(e.Stack, src.Stack...)
	}
	return e
}

// Error implements the error interface. It renders the message, then the
// values, then the source's own Error text; kind and locations appear
// only in Render.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, kv := range e.Values {
		fmt.Fprintf(&b, " %s=%s", kv.Key, kv.Value)
	}
	if e.Source != nil {
		fmt.Fprintf(&b, ": %s", e.Source.Error())
	}
	return b.String()
}

// Unwrap exposes the chained cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Source }

// Is reports whether target has the same Kind, so callers can write
// errors.Is(err, tgerror.New(tgerror.NotFound, "")) style kind checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind != "" && t.Kind == e.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}

// Render produces the full multi-line, causes-in-arrival-order rendering
// described in §7: kind and message, values, then locations for each
// link in the chain, each link indented one step deeper.
func Render(err error) string {
	var b strings.Builder
	depth := 0
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			fmt.Fprintf(&b, "%s%s\n", strings.Repeat("  ", depth), err.Error())
			break
		}
		fmt.Fprintf(&b, "%s[%s] %s\n", strings.Repeat("  ", depth), e.Kind, e.Message)
		for _, kv := range e.Values {
			fmt.Fprintf(&b, "%s  %s = %s\n", strings.Repeat("  ", depth), kv.Key, kv.Value)
		}
		for _, loc := range e.Stack {
			fmt.Fprintf(&b, "%s  at %s\n", strings.Repeat("  ", depth), loc)
		}
		err = e.Source
		depth++
	}
	return b.String()
}
