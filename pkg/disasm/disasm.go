package disasm

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/maxgio92/crashenv/pkg/arch"
	"github.com/maxgio92/crashenv/pkg/stack"
)

const (
	x86MaxInstructionLen = 15
	arm64InstructionLen  = 4
	pageSize             = 4096
)

var (
	ErrNoAddress       = errors.New("no instruction address")
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// Instruction decodes the instruction at pc, in GNU syntax.
func Instruction(cpu arch.CPU, mem stack.MemoryReader, pc uint64) (string, error) {
	if pc == 0 {
		return "", ErrNoAddress
	}
	if cpu == nil || mem == nil {
		return "", ErrUnsupportedArch
	}

	switch cpu.(type) {
	case arch.AMD64:
		return decodeX86(mem, pc)
	case arch.ARM64:
		return decodeARM64(mem, pc)
	}
	return "", errors.Wrapf(ErrUnsupportedArch, "%s", cpu.Name())
}

func decodeX86(mem stack.MemoryReader, pc uint64) (string, error) {
	buf := make([]byte, x86MaxInstructionLen)
	if err := mem.ReadMemory(pc, buf); err != nil {
		// The next page may be unmapped.
		tail := pageSize - pc%pageSize
		if tail >= x86MaxInstructionLen {
			return "", errors.Wrap(err, "error reading instruction")
		}
		buf = buf[:tail]
		if err := mem.ReadMemory(pc, buf); err != nil {
			return "", errors.Wrap(err, "error reading instruction")
		}
	}

	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		return "", errors.Wrap(err, "error decoding instruction")
	}
	return x86asm.GNUSyntax(inst, pc, nil), nil
}

func decodeARM64(mem stack.MemoryReader, pc uint64) (string, error) {
	buf := make([]byte, arm64InstructionLen)
	if err := mem.ReadMemory(pc, buf); err != nil {
		return "", errors.Wrap(err, "error reading instruction")
	}

	inst, err := arm64asm.Decode(buf)
	if err != nil {
		return "", errors.Wrap(err, "error decoding instruction")
	}
	return arm64asm.GNUSyntax(inst), nil
}
