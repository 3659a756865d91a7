package arch

// Register indexes of an amd64 Block.
const (
	AMD64RAX = iota
	AMD64RBX
	AMD64RCX
	AMD64RDX
	AMD64RDI
	AMD64RSI
	AMD64RBP
	AMD64RSP
	AMD64R8
	AMD64R9
	AMD64R10
	AMD64R11
	AMD64R12
	AMD64R13
	AMD64R14
	AMD64R15
	AMD64RIP
	AMD64RFLAGS
	AMD64CS
	AMD64FS
	AMD64GS
)

const (
	AMD64TrapNo     = 0
	AMD64Err        = 1
	AMD64FaultVAddr = 2
)

var (
	amd64RegisterNames = []string{
		"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"rip", "rflags", "cs", "fs", "gs",
	}
	amd64ExceptionRegisterNames = []string{"trapno", "err", "faultvaddr"}
)

type AMD64 struct{}

func (AMD64) Name() string { return "amd64" }

func (AMD64) NumRegisters() int { return len(amd64RegisterNames) }

func (AMD64) RegisterName(i int) (string, bool) { return name(amd64RegisterNames, i) }

func (c AMD64) RegisterValue(b *Block, i int) (uint64, bool) {
	if i < 0 || i >= c.NumRegisters() {
		return 0, false
	}
	return b.Registers[i], true
}

func (AMD64) NumExceptionRegisters() int { return len(amd64ExceptionRegisterNames) }

func (AMD64) ExceptionRegisterName(i int) (string, bool) {
	return name(amd64ExceptionRegisterNames, i)
}

func (c AMD64) ExceptionRegisterValue(b *Block, i int) (uint64, bool) {
	if i < 0 || i >= c.NumExceptionRegisters() || !b.HasException(i) {
		return 0, false
	}
	return b.Exception[i], true
}

func (AMD64) InstructionAddress(b *Block) uint64 { return b.Registers[AMD64RIP] }

func (AMD64) StackPointer(b *Block) uint64 { return b.Registers[AMD64RSP] }

func (AMD64) FramePointer(b *Block) uint64 { return b.Registers[AMD64RBP] }

// LinkRegister is always zero: return addresses live on the stack.
func (AMD64) LinkRegister(_ *Block) uint64 { return 0 }

func (AMD64) FaultAddress(b *Block) uint64 { return b.Exception[AMD64FaultVAddr] }

func (AMD64) StackGrowDirection() int { return -1 }

func (AMD64) NormaliseInstructionPointer(ip uint64) uint64 { return ip }
