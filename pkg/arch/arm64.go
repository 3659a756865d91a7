package arch

// Register indexes of an arm64 Block.
const (
	ARM64X0   = 0
	ARM64FP   = 29
	ARM64LR   = 30
	ARM64SP   = 31
	ARM64PC   = 32
	ARM64CPSR = 33

	ARM64Exception = 0
	ARM64ESR       = 1
	ARM64FAR       = 2
)

// Strips pointer authentication codes, user space addresses are 48 bits wide.
const pacStrippingMaskARM64 = 0x0000ffffffffffff

var (
	arm64RegisterNames = []string{
		"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8",
		"x9", "x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17",
		"x18", "x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26",
		"x27", "x28", "fp", "lr", "sp", "pc", "cpsr",
	}
	arm64ExceptionRegisterNames = []string{"exception", "esr", "far"}
)

type ARM64 struct{}

func (ARM64) Name() string { return "arm64" }

func (ARM64) NumRegisters() int { return len(arm64RegisterNames) }

func (ARM64) RegisterName(i int) (string, bool) { return name(arm64RegisterNames, i) }

func (c ARM64) RegisterValue(b *Block, i int) (uint64, bool) {
	if i < 0 || i >= c.NumRegisters() {
		return 0, false
	}
	return b.Registers[i], true
}

func (ARM64) NumExceptionRegisters() int { return len(arm64ExceptionRegisterNames) }

func (ARM64) ExceptionRegisterName(i int) (string, bool) {
	return name(arm64ExceptionRegisterNames, i)
}

func (c ARM64) ExceptionRegisterValue(b *Block, i int) (uint64, bool) {
	if i < 0 || i >= c.NumExceptionRegisters() || !b.HasException(i) {
		return 0, false
	}
	return b.Exception[i], true
}

func (ARM64) InstructionAddress(b *Block) uint64 { return b.Registers[ARM64PC] }

func (ARM64) StackPointer(b *Block) uint64 { return b.Registers[ARM64SP] }

func (ARM64) FramePointer(b *Block) uint64 { return b.Registers[ARM64FP] }

func (ARM64) LinkRegister(b *Block) uint64 { return b.Registers[ARM64LR] }

func (ARM64) FaultAddress(b *Block) uint64 { return b.Exception[ARM64FAR] }

func (ARM64) StackGrowDirection() int { return -1 }

func (ARM64) NormaliseInstructionPointer(ip uint64) uint64 {
	return ip & pacStrippingMaskARM64
}
