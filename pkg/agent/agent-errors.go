package agent

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidPid     = errors.New("invalid target pid")
	ErrNotInitialized = errors.New("agent is not initialized")
)
