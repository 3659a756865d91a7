package stack

import (
	"encoding/binary"

	"github.com/maxgio92/crashenv/pkg/arch"
)

// MemoryReader copies target memory without faulting on bad addresses.
type MemoryReader interface {
	ReadMemory(address uint64, dst []byte) error
}

// MachineContext is the register source of a machine context cursor.
type MachineContext interface {
	CPU() arch.CPU
	Registers() *arch.Block
	Memory() MemoryReader
}

// frameRecord is the {previous frame pointer, return address} pair
// pushed by a function prologue.
const frameRecordSize = 16

type machineContext struct {
	mc       MachineContext
	maxDepth int

	instructionAddress uint64
	linkRegister       uint64
	isPastFramePointer bool
	previous           uint64
	buf                [frameRecordSize]byte
}

func (m *machineContext) reset() {
	m.instructionAddress = 0
	m.linkRegister = 0
	m.isPastFramePointer = false
	m.previous = 0
}

// InitWithMachineContext sets up a cursor that unwinds a thread from its
// registers by frame pointer chaining. Walks longer than maxDepth give up.
func InitWithMachineContext(c *Cursor, maxDepth int, mc MachineContext) {
	c.setup(kindMachineContext)
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}
	c.machine.mc = mc
	c.machine.maxDepth = maxDepth
}

func (c *Cursor) advanceMachineContext() bool {
	m := &c.machine
	if m.mc == nil || m.mc.CPU() == nil {
		return false
	}
	cpu := m.mc.CPU()
	regs := m.mc.Registers()

	if c.Depth >= m.maxDepth {
		c.GivenUp = true
		return false
	}

	var next uint64
	switch {
	case m.instructionAddress == 0:
		m.instructionAddress = cpu.InstructionAddress(regs)
		if m.instructionAddress == 0 {
			return false
		}
		next = m.instructionAddress
	case m.linkRegister == 0 && !m.isPastFramePointer && cpu.LinkRegister(regs) != 0:
		m.linkRegister = cpu.LinkRegister(regs)
		next = m.linkRegister
	default:
		if m.previous == 0 {
			if m.isPastFramePointer {
				return false
			}
			m.previous = cpu.FramePointer(regs)
			m.isPastFramePointer = true
		}
		if !m.readFrameRecord() {
			return false
		}
		returnAddress := binary.LittleEndian.Uint64(m.buf[8:])
		m.previous = binary.LittleEndian.Uint64(m.buf[:8])
		if m.previous == 0 || returnAddress == 0 {
			return false
		}
		next = returnAddress
	}

	c.Frame = Frame{Address: cpu.NormaliseInstructionPointer(next)}
	c.Depth++

	return true
}

func (m *machineContext) readFrameRecord() bool {
	mem := m.mc.Memory()
	if mem == nil || m.previous == 0 {
		return false
	}
	return mem.ReadMemory(m.previous, m.buf[:]) == nil
}
