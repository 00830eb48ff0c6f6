package source

import "time"

type resultState uint8

const (
	stateNotFound resultState = iota
	stateFound
	stateFailed
)

// Result is the outcome of a single property lookup. Absence and failure are
// distinct states; a missing property is never an error.
type Result struct {
	Value Value
	Err   error
	state resultState
}

func Found(v Value) Result    { return Result{Value: v, state: stateFound} }
func NotFound() Result        { return Result{state: stateNotFound} }
func Failed(err error) Result { return Result{Err: err, state: stateFailed} }

func (r Result) IsFound() bool    { return r.state == stateFound }
func (r Result) IsNotFound() bool { return r.state == stateNotFound }
func (r Result) IsFailed() bool   { return r.state == stateFailed }

// Text returns the value when it is found and textual.
func (r Result) Text() (string, bool) {
	if s, ok := r.Value.(String); ok && r.IsFound() {
		return string(s), true
	}
	return "", false
}

// Int returns the value when it is found and integral.
func (r Result) Int() (int64, bool) {
	if !r.IsFound() {
		return 0, false
	}
	switch v := r.Value.(type) {
	case Int32:
		return int64(v), true
	case Int64:
		return int64(v), true
	}
	return 0, false
}

// Time returns the value when it is found and a timestamp.
func (r Result) Time() (time.Time, bool) {
	if t, ok := r.Value.(Time); ok && r.IsFound() {
		return time.Time(t), true
	}
	return time.Time{}, false
}
