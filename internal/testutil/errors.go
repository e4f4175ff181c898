package testutil

import "errors"

// Common test errors
var (
	ErrUnreachable   = errors.New("endpoint unreachable")
	ErrPoolExhausted = errors.New("pool exhausted")
	ErrTestFailure   = errors.New("test failure")
)
