package arch

import (
	"runtime"

	"github.com/pkg/errors"
)

const (
	// MaxRegisters is the capacity of the general register area of a Block.
	MaxRegisters = 40
	// MaxExceptionRegisters is the capacity of the exception register area of a Block.
	MaxExceptionRegisters = 3
)

var ErrUnsupportedArch = errors.New("unsupported architecture")

// Block is the raw register block of one thread. Its layout is defined by
// the CPU that produced it, see the index constants of each architecture.
type Block struct {
	Registers [MaxRegisters]uint64
	Exception [MaxExceptionRegisters]uint64

	// exceptionSet has bit i set when Exception[i] was read from the OS.
	exceptionSet uint8
}

// SetException stores the value of the exception register i.
func (b *Block) SetException(i int, v uint64) {
	if i < 0 || i >= MaxExceptionRegisters {
		return
	}
	b.Exception[i] = v
	b.exceptionSet |= 1 << i
}

// HasException reports whether the exception register i was set.
func (b *Block) HasException(i int) bool {
	if i < 0 || i >= MaxExceptionRegisters {
		return false
	}
	return b.exceptionSet&(1<<i) != 0
}

// CPU hides the register layout of one architecture behind a uniform
// query surface.
type CPU interface {
	Name() string

	NumRegisters() int
	RegisterName(i int) (string, bool)
	RegisterValue(b *Block, i int) (uint64, bool)

	NumExceptionRegisters() int
	ExceptionRegisterName(i int) (string, bool)
	// ExceptionRegisterValue is false for registers the OS did not report.
	ExceptionRegisterValue(b *Block, i int) (uint64, bool)

	InstructionAddress(b *Block) uint64
	StackPointer(b *Block) uint64
	FramePointer(b *Block) uint64
	LinkRegister(b *Block) uint64
	FaultAddress(b *Block) uint64

	// StackGrowDirection is -1 when the stack grows towards lower addresses.
	StackGrowDirection() int

	// NormaliseInstructionPointer masks out the bits of ip that are not
	// part of the address.
	NormaliseInstructionPointer(ip uint64) uint64
}

// ForArch returns the CPU for a GOARCH value.
func ForArch(goarch string) (CPU, error) {
	switch goarch {
	case "arm64":
		return ARM64{}, nil
	case "amd64":
		return AMD64{}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedArch, "%s", goarch)
}

// Native returns the CPU this program runs on.
func Native() (CPU, error) {
	return ForArch(runtime.GOARCH)
}

func name(names []string, i int) (string, bool) {
	if i < 0 || i >= len(names) {
		return "", false
	}
	return names[i], true
}
