package model

import (
	"errors"
	"fmt"
)

var (
	ErrDecode            = errors.New("image could not be decoded")
	ErrUnsupportedInput  = errors.New("unsupported input")
	ErrModelLoad         = errors.New("model load failed")
	ErrUnregisteredLayer = errors.New("unregistered layer type")
	ErrEnsemble          = errors.New("ensemble prediction failed")
	ErrAggregation       = errors.New("verdict aggregation failed")
	ErrNoFrames          = errors.New("no frames extracted from the video")
	ErrNoPredictions     = errors.New("model returned no predictions")
)

// KindError tags an underlying error with one of the kinds above so callers
// can match either the kind or the cause with errors.Is.
type KindError struct {
	Kind error
	Op   string
	Err  error
}

func WrapError(kind error, op string, err error) error {
	return &KindError{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsClientError reports whether the error was caused by malformed or
// unsupported client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrUnsupportedInput) ||
		errors.Is(err, ErrNoFrames)
}
