//go:build !profile

package prof

import (
	"errors"
	"net/http"
)

// Enabled reports whether profiling is compiled in.
const Enabled = false

// ErrCPUProfileActive is never returned without the "profile" tag.
var ErrCPUProfileActive = errors.New("cpu profile already active")

// StartCPU does nothing without the "profile" tag.
func StartCPU(string) (func() error, error) {
	return func() error { return nil }, nil
}

// WriteHeap does nothing without the "profile" tag.
func WriteHeap(string) error { return nil }

// Register does nothing without the "profile" tag.
func Register(*http.ServeMux) {}
