package stack

import (
	"sync/atomic"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/pkg/arch"
)

const (
	// MaxDepth bounds every machine context walk.
	MaxDepth = 500

	// OverflowThreshold is the depth after which a walk that has not
	// reached the outermost frame is considered a stack overflow.
	OverflowThreshold = 150
)

// Frame is the current entry of a Cursor. Only Address is filled by
// Advance; the other fields are filled by Symbolicate.
type Frame struct {
	Address       uint64
	ImageAddress  uint64
	ImageName     string
	SymbolAddress uint64
	SymbolName    string
}

// Symbolicator resolves a code address into image and symbol information.
type Symbolicator interface {
	Symbolicate(address uint64, frame *Frame) bool
}

type kind uint8

const (
	kindNull kind = iota
	kindBacktrace
	kindMachineContext
)

// Cursor walks a call stack one frame at a time. The producer of the
// frames is chosen by the Init function used to set it up, and the walk
// can be restarted with Reset.
type Cursor struct {
	Depth   int
	GivenUp bool
	Frame   Frame

	kind         kind
	backtrace    backtraceContext
	machine      machineContext
	logger       *log.Logger
	symbolicator Symbolicator
}

// Reset rewinds the cursor to the first frame.
func (c *Cursor) Reset() {
	c.Depth = 0
	c.GivenUp = false
	c.Frame = Frame{}

	if c.kind == kindMachineContext {
		c.machine.reset()
	}
}

// Advance moves to the next frame. It returns false when the stack is
// exhausted, an invalid address is found, or the maximum depth is reached.
func (c *Cursor) Advance() bool {
	switch c.kind {
	case kindBacktrace:
		return c.advanceBacktrace()
	case kindMachineContext:
		return c.advanceMachineContext()
	}
	return c.advanceNull()
}

// Symbolicate resolves the current frame address.
func (c *Cursor) Symbolicate() bool {
	if c.symbolicator == nil || c.Depth == 0 || c.Frame.Address == 0 {
		return false
	}
	address := c.Frame.Address
	// Return addresses point after the call instruction.
	if c.Depth > 1 && address > 0 {
		address--
	}
	return c.symbolicator.Symbolicate(address, &c.Frame)
}

func (c *Cursor) SetSymbolicator(s Symbolicator) {
	c.symbolicator = s
}

func (c *Cursor) setup(k kind) {
	c.kind = k
	c.backtrace = backtraceContext{}
	c.machine = machineContext{}
	c.Reset()
}

// nullCursorWarned is set once the first null cursor with a logger has
// advanced.
var nullCursorWarned atomic.Bool

// InitNull sets up a cursor that yields no frames. It is used when no
// unwinder could be installed.
func InitNull(c *Cursor, logger *log.Logger) {
	c.setup(kindNull)
	c.logger = logger
}

func (c *Cursor) advanceNull() bool {
	if c.logger != nil && nullCursorWarned.CompareAndSwap(false, true) {
		c.logger.Warn().Msg("no stack cursor has been set: installing the exception hook failed, " +
			"which usually happens when the process embeds more than one copy of its runtime")
	}
	return false
}

func normalise(cpu arch.CPU, address uint64) uint64 {
	if cpu == nil {
		return address
	}
	return cpu.NormaliseInstructionPointer(address)
}
