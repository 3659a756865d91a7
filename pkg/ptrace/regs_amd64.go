//go:build linux

package ptrace

import (
	"golang.org/x/sys/unix"

	"github.com/maxgio92/crashenv/pkg/arch"
)

func fillBlock(dst *arch.Block, regs *unix.PtraceRegs) {
	r := &dst.Registers
	r[arch.AMD64RAX] = regs.Rax
	r[arch.AMD64RBX] = regs.Rbx
	r[arch.AMD64RCX] = regs.Rcx
	r[arch.AMD64RDX] = regs.Rdx
	r[arch.AMD64RDI] = regs.Rdi
	r[arch.AMD64RSI] = regs.Rsi
	r[arch.AMD64RBP] = regs.Rbp
	r[arch.AMD64RSP] = regs.Rsp
	r[arch.AMD64R8] = regs.R8
	r[arch.AMD64R9] = regs.R9
	r[arch.AMD64R10] = regs.R10
	r[arch.AMD64R11] = regs.R11
	r[arch.AMD64R12] = regs.R12
	r[arch.AMD64R13] = regs.R13
	r[arch.AMD64R14] = regs.R14
	r[arch.AMD64R15] = regs.R15
	r[arch.AMD64RIP] = regs.Rip
	r[arch.AMD64RFLAGS] = regs.Eflags
	r[arch.AMD64CS] = regs.Cs
	r[arch.AMD64FS] = regs.Fs
	r[arch.AMD64GS] = regs.Gs
}

func setFaultAddress(dst *arch.Block, addr uint64) {
	dst.SetException(arch.AMD64FaultVAddr, addr)
}
