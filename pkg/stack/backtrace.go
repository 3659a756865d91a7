package stack

import "github.com/maxgio92/crashenv/pkg/arch"

type backtraceContext struct {
	backtrace []uint64
	skip      int
	cpu       arch.CPU
}

// InitWithBacktrace sets up a cursor over a captured array of return
// addresses. The first skip entries are never yielded.
func InitWithBacktrace(c *Cursor, backtrace []uint64, skip int, cpu arch.CPU) {
	c.setup(kindBacktrace)
	if skip < 0 {
		skip = 0
	}
	c.backtrace = backtraceContext{
		backtrace: backtrace,
		skip:      skip,
		cpu:       cpu,
	}
}

func (c *Cursor) advanceBacktrace() bool {
	ctx := &c.backtrace
	endDepth := len(ctx.backtrace) - ctx.skip
	if c.Depth >= endDepth {
		return false
	}
	next := ctx.backtrace[c.Depth+ctx.skip]
	// 0 and 1 mark the end of the captured stack.
	if next <= 1 {
		return false
	}
	c.Frame = Frame{Address: normalise(ctx.cpu, next)}
	c.Depth++

	return true
}
