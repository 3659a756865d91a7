//go:build linux

package ptrace

import (
	"github.com/pkg/errors"
)

var (
	ErrTracerClosed    = errors.New("tracer is closed")
	ErrTracerNotInit   = errors.New("tracer is not initialized")
	ErrProcessExited   = errors.New("traced process exited")
	ErrThreadNotTraced = errors.New("thread is not traced")
	ErrShortRead       = errors.New("short memory read")
)
