package capture_test

import (
	"bytes"
	"encoding/binary"
	"syscall"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/arch"
	"github.com/maxgio92/crashenv/pkg/capture"
	"github.com/maxgio92/crashenv/pkg/machine"
	"github.com/maxgio92/crashenv/pkg/siginfo"
	"github.com/maxgio92/crashenv/pkg/stack"
	"github.com/maxgio92/crashenv/pkg/thread"
	"github.com/maxgio92/crashenv/pkg/threadcache"
)

type fakeProcess struct {
	self    thread.Thread
	threads []thread.Thread
	regs    map[thread.Thread]arch.Block
	memory  map[uint64][]byte

	cache     *threadcache.Cache
	suspended []thread.Thread
	resumed   []thread.Thread
	// freezeCounts records the cache gate at every suspension.
	freezeCounts []int32
}

func (p *fakeProcess) Self() thread.Thread { return p.self }

func (p *fakeProcess) Threads() ([]thread.Thread, error) { return p.threads, nil }

func (p *fakeProcess) Suspend(t thread.Thread) error {
	p.suspended = append(p.suspended, t)
	if p.cache != nil {
		p.freezeCounts = append(p.freezeCounts, p.cache.FreezeCount())
	}
	return nil
}

func (p *fakeProcess) Resume(t thread.Thread) error {
	p.resumed = append(p.resumed, t)
	return nil
}

func (p *fakeProcess) Registers(t thread.Thread, b *arch.Block) error {
	regs, ok := p.regs[t]
	if !ok {
		return errors.New("no such thread")
	}
	*b = regs
	return nil
}

func (p *fakeProcess) ReadMemory(address uint64, dst []byte) error {
	for start, data := range p.memory {
		if address >= start && address+uint64(len(dst)) <= start+uint64(len(data)) {
			copy(dst, data[address-start:])
			return nil
		}
	}
	return errors.New("bad address")
}

func frameRecord(previous, ret uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[:8], previous)
	binary.LittleEndian.PutUint64(buf[8:], ret)
	return buf
}

func amd64Regs(pc, fp uint64) arch.Block {
	var b arch.Block
	b.Registers[arch.AMD64RIP] = pc
	b.Registers[arch.AMD64RBP] = fp
	return b
}

type names map[thread.Thread]string

func (n names) Threads() ([]thread.Thread, error) {
	threads := make([]thread.Thread, 0, len(n))
	for t := range n {
		threads = append(threads, t)
	}
	return threads, nil
}

func (n names) Name(t thread.Thread) (string, error) { return n[t], nil }

func (n names) QueueName(thread.Thread) (string, error) { return "", thread.ErrNoQueueName }

func (n names) LocalID(t thread.Thread) (uint64, error) { return uint64(t), nil }

type symbols map[uint64]string

func (s symbols) Symbolicate(address uint64, frame *stack.Frame) bool {
	frame.ImageName = "/usr/bin/app"
	base := address &^ 0xff
	if name, ok := s[base]; ok {
		frame.SymbolName = name
		frame.SymbolAddress = base
	}
	return true
}

func newFixture(t *testing.T) (*fakeProcess, *capture.Capturer) {
	t.Helper()
	color.NoColor = true
	logger := zerolog.New(zerolog.NewTestWriter(t))

	cache := threadcache.New(names{1: "main", 2: "worker", 3: "gc"})
	require.NoError(t, cache.Refresh())

	p := &fakeProcess{
		self:    2,
		threads: []thread.Thread{1, 2, 3},
		regs: map[thread.Thread]arch.Block{
			1: amd64Regs(0x402000, 0x7100),
			3: amd64Regs(0x403000, 0),
		},
		memory: map[uint64][]byte{
			0x401000: {0x0f, 0x0b, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			0x7000:   frameRecord(0x7010, 0x401105),
			0x7010:   frameRecord(0, 0x401205),
			0x7100:   frameRecord(0x7110, 0x402105),
			0x7110:   frameRecord(0, 0),
		},
		cache: cache,
	}
	env := machine.NewEnvironment(
		machine.WithProcess(p),
		machine.WithCPU(arch.AMD64{}),
		machine.WithLogger(logger),
	)
	c, err := capture.NewCapturer(
		capture.WithEnvironment(env),
		capture.WithCache(cache),
		capture.WithSymbolicator(symbols{0x401000: "main.crash", 0x401100: "main.work", 0x402100: "main.loop"}),
		capture.WithLogger(logger),
		capture.WithPid(1),
	)
	require.NoError(t, err)

	return p, c
}

func TestNewCapturer(t *testing.T) {
	_, err := capture.NewCapturer()
	require.ErrorIs(t, err, capture.ErrNoEnvironment)
}

func TestCaptureCrash(t *testing.T) {
	p, c := newFixture(t)

	sc := &machine.SignalContext{
		Thread:    2,
		Signal:    syscall.SIGSEGV,
		Code:      siginfo.SEGV_MAPERR,
		Registers: amd64Regs(0x401000, 0x7000),
	}
	sc.Registers.SetException(arch.AMD64FaultVAddr, 0x8)

	report := c.CaptureCrash(sc)

	// The crashed thread is not suspended, everything suspended is resumed.
	require.Equal(t, []thread.Thread{1, 3}, p.suspended)
	require.Equal(t, p.suspended, p.resumed)
	require.Equal(t, []int32{1, 1}, p.freezeCounts)
	require.Zero(t, p.cache.FreezeCount())

	require.True(t, report.Crashed)
	require.Equal(t, 1, report.Pid)
	require.Equal(t, "amd64", report.Arch)
	require.Equal(t, &capture.SignalReport{
		Signal:       syscall.SIGSEGV,
		Name:         "SIGSEGV",
		Code:         siginfo.SEGV_MAPERR,
		CodeName:     "SEGV_MAPERR",
		FaultAddress: 0x8,
	}, report.Signal)
	require.Equal(t, "ud2", report.Instruction)

	require.Len(t, report.Threads, 3)
	crashed, ok := report.CrashedThread()
	require.True(t, ok)
	require.Equal(t, thread.Thread(2), crashed.Thread)
	require.Equal(t, "worker", crashed.Name)
	require.True(t, crashed.Current)
	require.False(t, crashed.StackOverflow)
	// Only the registers the OS reported are emitted.
	require.Equal(t, []capture.Register{{Name: "faultvaddr", Value: 0x8}}, crashed.ExceptionRegisters)

	var addrs []uint64
	var syms []string
	for _, f := range crashed.Frames {
		addrs = append(addrs, f.Address)
		syms = append(syms, f.SymbolName)
	}
	require.Equal(t, []uint64{0x401000, 0x401105}, addrs)
	require.Equal(t, []string{"main.crash", "main.work"}, syms)

	main := report.Threads[0]
	require.Equal(t, thread.Thread(1), main.Thread)
	require.Equal(t, "main", main.Name)
	require.False(t, main.Crashed)
	require.Empty(t, main.ExceptionRegisters)
	require.Len(t, main.Frames, 2)
	require.Equal(t, "main.loop", main.Frames[1].SymbolName)

	var out bytes.Buffer
	require.NoError(t, report.WriteText(&out))
	text := out.String()
	require.Contains(t, text, "Exception: SIGSEGV (SEGV_MAPERR) at 0x")
	require.Contains(t, text, "Instruction: ud2")
	require.Contains(t, text, "Thread 2: name: worker (Crashed)")
	require.Contains(t, text, "main.work + 0x5")
	require.Contains(t, text, "Thread 2 registers:")
	require.Contains(t, text, "faultvaddr: 0x")
	require.NotContains(t, text, "trapno")
	require.NotContains(t, text, "err: ")
}

func TestCaptureCrash_UnreadableThread(t *testing.T) {
	p, c := newFixture(t)
	delete(p.regs, 3)

	report := c.CaptureCrash(&machine.SignalContext{Thread: 2, Signal: syscall.SIGABRT})
	require.Len(t, report.Threads, 3)
	require.Equal(t, "gc", report.Threads[2].Name)
	require.NotEmpty(t, report.Threads[2].Err)
	require.Equal(t, "SIGABRT", report.Signal.Name)
	require.Empty(t, report.Signal.CodeName)
	require.Empty(t, report.Instruction)

	var out bytes.Buffer
	require.NoError(t, report.WriteText(&out))
	require.Contains(t, out.String(), "SIGABRT (code 0)")
}

func TestCaptureSnapshot(t *testing.T) {
	p, c := newFixture(t)
	p.self = thread.Invalid
	p.regs[2] = amd64Regs(0x401000, 0x7000)

	report := c.CaptureSnapshot()

	require.Equal(t, []thread.Thread{1, 2, 3}, p.suspended)
	require.Equal(t, p.suspended, p.resumed)
	require.Zero(t, p.cache.FreezeCount())

	require.False(t, report.Crashed)
	require.Nil(t, report.Signal)
	_, ok := report.CrashedThread()
	require.False(t, ok)

	require.Len(t, report.Threads, 3)
	for _, th := range report.Threads {
		require.NotEmpty(t, th.Registers, "thread %d", th.Thread)
		require.Empty(t, th.ExceptionRegisters)
		require.NotEmpty(t, th.Frames)
	}
	require.WithinDuration(t, time.Now(), report.Time, time.Minute)
}
