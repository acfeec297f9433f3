package delegate

import (
    "context"
    "errors"

    "wiregate/internal/types"
)

// Job is one request handed to the delegate. Prompt is the bounded textual
// description built by the gateway; Request is the structured form.
type Job struct {
    RequestID string
    Request   *types.ParsedRequest
    Prompt    string
}

// Delegate produces the response for a Job. Output is streamed through emit;
// when emit fails the delegate stops and returns that error.
type Delegate interface {
    Run(ctx context.Context, job Job, emit func([]byte) error) error
}

// Func adapts a plain function to Delegate.
type Func func(ctx context.Context, job Job, emit func([]byte) error) error

func (f Func) Run(ctx context.Context, job Job, emit func([]byte) error) error { return f(ctx, job, emit) }

type Class string

const (
    ClassBudget     Class = "budget_exhausted"
    ClassIterations Class = "max_iterations"
    ClassUnknown    Class = "unknown"
)

func ParseClass(s string) Class {
    switch Class(s) {
    case ClassBudget, ClassIterations:
        return Class(s)
    default:
        return ClassUnknown
    }
}

// Failure is a failure the delegate reported or that ended delegation.
type Failure struct {
    Class Class
    Err   error
}

func (f *Failure) Error() string {
    if f.Err != nil { return "delegate " + string(f.Class) + ": " + f.Err.Error() }
    return "delegate " + string(f.Class)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrResponseTooLarge is returned by an emit func once accumulated output
// passes the response ceiling.
var ErrResponseTooLarge = errors.New("response too large")

// ClassOf returns the failure class carried by err, or ClassUnknown.
func ClassOf(err error) Class {
    var f *Failure
    if errors.As(err, &f) { return f.Class }
    return ClassUnknown
}
