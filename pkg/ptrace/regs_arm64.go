//go:build linux

package ptrace

import (
	"golang.org/x/sys/unix"

	"github.com/maxgio92/crashenv/pkg/arch"
)

func fillBlock(dst *arch.Block, regs *unix.PtraceRegs) {
	// x0-x28, fp and lr share the layout of the kernel register array.
	copy(dst.Registers[arch.ARM64X0:arch.ARM64SP], regs.Regs[:])
	dst.Registers[arch.ARM64SP] = regs.Sp
	dst.Registers[arch.ARM64PC] = regs.Pc
	dst.Registers[arch.ARM64CPSR] = regs.Pstate
}

func setFaultAddress(dst *arch.Block, addr uint64) {
	dst.SetException(arch.ARM64FAR, addr)
}
