//go:build linux && !amd64 && !arm64

package ptrace

import (
	"golang.org/x/sys/unix"

	"github.com/maxgio92/crashenv/pkg/arch"
)

// Registers are not decoded on this architecture, see arch.ForArch.
func fillBlock(_ *arch.Block, _ *unix.PtraceRegs) {}

func setFaultAddress(_ *arch.Block, _ uint64) {}
