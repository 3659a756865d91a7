package arch_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/arch"
)

func TestForArch(t *testing.T) {
	cpu, err := arch.ForArch("arm64")
	require.NoError(t, err)
	require.Equal(t, "arm64", cpu.Name())

	cpu, err = arch.ForArch("amd64")
	require.NoError(t, err)
	require.Equal(t, "amd64", cpu.Name())

	_, err = arch.ForArch("mips")
	require.ErrorIs(t, err, arch.ErrUnsupportedArch)
}

func TestNative(t *testing.T) {
	cpu, err := arch.Native()
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		require.ErrorIs(t, err, arch.ErrUnsupportedArch)
		return
	}
	require.NoError(t, err)
	require.Equal(t, runtime.GOARCH, cpu.Name())
}

func TestARM64Registers(t *testing.T) {
	cpu := arch.ARM64{}
	var b arch.Block
	for i := 0; i < cpu.NumRegisters(); i++ {
		b.Registers[i] = uint64(0x1000 + i)
	}
	b.SetException(arch.ARM64ESR, 0x92000046)
	b.SetException(arch.ARM64FAR, 0xdead)

	require.Equal(t, 34, cpu.NumRegisters())

	name, ok := cpu.RegisterName(0)
	require.True(t, ok)
	require.Equal(t, "x0", name)
	name, ok = cpu.RegisterName(arch.ARM64FP)
	require.True(t, ok)
	require.Equal(t, "fp", name)
	name, ok = cpu.RegisterName(arch.ARM64CPSR)
	require.True(t, ok)
	require.Equal(t, "cpsr", name)
	_, ok = cpu.RegisterName(cpu.NumRegisters())
	require.False(t, ok)
	_, ok = cpu.RegisterName(-1)
	require.False(t, ok)

	v, ok := cpu.RegisterValue(&b, arch.ARM64LR)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000+arch.ARM64LR), v)
	_, ok = cpu.RegisterValue(&b, 99)
	require.False(t, ok)

	require.Equal(t, uint64(0x1000+arch.ARM64PC), cpu.InstructionAddress(&b))
	require.Equal(t, uint64(0x1000+arch.ARM64SP), cpu.StackPointer(&b))
	require.Equal(t, uint64(0x1000+arch.ARM64FP), cpu.FramePointer(&b))
	require.Equal(t, uint64(0x1000+arch.ARM64LR), cpu.LinkRegister(&b))
	require.Equal(t, uint64(0xdead), cpu.FaultAddress(&b))

	require.Equal(t, 3, cpu.NumExceptionRegisters())
	name, ok = cpu.ExceptionRegisterName(arch.ARM64ESR)
	require.True(t, ok)
	require.Equal(t, "esr", name)
	v, ok = cpu.ExceptionRegisterValue(&b, arch.ARM64ESR)
	require.True(t, ok)
	require.Equal(t, uint64(0x92000046), v)
	_, ok = cpu.ExceptionRegisterValue(&b, 3)
	require.False(t, ok)
	// Never reported by the OS.
	_, ok = cpu.ExceptionRegisterValue(&b, arch.ARM64Exception)
	require.False(t, ok)

	require.Equal(t, -1, cpu.StackGrowDirection())
}

func TestARM64NormaliseInstructionPointer(t *testing.T) {
	cpu := arch.ARM64{}
	// Signed return address: PAC bits in the upper half.
	require.Equal(t, uint64(0x0000ffff8a3c45f8), cpu.NormaliseInstructionPointer(0x3a1fffff8a3c45f8))
	require.Equal(t, uint64(0x1000), cpu.NormaliseInstructionPointer(0x1000))
}

func TestAMD64Registers(t *testing.T) {
	cpu := arch.AMD64{}
	var b arch.Block
	b.Registers[arch.AMD64RIP] = 0x401000
	b.Registers[arch.AMD64RSP] = 0x7ffc0000
	b.Registers[arch.AMD64RBP] = 0x7ffc0010
	b.SetException(arch.AMD64FaultVAddr, 0x10)

	require.Equal(t, 21, cpu.NumRegisters())
	name, ok := cpu.RegisterName(arch.AMD64RIP)
	require.True(t, ok)
	require.Equal(t, "rip", name)
	name, ok = cpu.ExceptionRegisterName(arch.AMD64TrapNo)
	require.True(t, ok)
	require.Equal(t, "trapno", name)

	require.Equal(t, uint64(0x401000), cpu.InstructionAddress(&b))
	require.Equal(t, uint64(0x7ffc0000), cpu.StackPointer(&b))
	require.Equal(t, uint64(0x7ffc0010), cpu.FramePointer(&b))
	require.Zero(t, cpu.LinkRegister(&b))
	require.Equal(t, uint64(0x10), cpu.FaultAddress(&b))
	require.Equal(t, uint64(0xffffffffffffffff), cpu.NormaliseInstructionPointer(0xffffffffffffffff))
}

func TestNamesFitBlock(t *testing.T) {
	for _, cpu := range []arch.CPU{arch.ARM64{}, arch.AMD64{}} {
		require.LessOrEqual(t, cpu.NumRegisters(), arch.MaxRegisters, cpu.Name())
		require.LessOrEqual(t, cpu.NumExceptionRegisters(), arch.MaxExceptionRegisters, cpu.Name())
	}
}
