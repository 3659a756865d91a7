package siginfo

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Linux si_code values for the fatal signals.
const (
	ILL_ILLOPC = 1
	ILL_ILLOPN = 2
	ILL_ILLADR = 3
	ILL_ILLTRP = 4
	ILL_PRVOPC = 5
	ILL_PRVREG = 6
	ILL_COPROC = 7
	ILL_BADSTK = 8

	TRAP_BRKPT = 1
	TRAP_TRACE = 2

	FPE_INTDIV = 1
	FPE_INTOVF = 2
	FPE_FLTDIV = 3
	FPE_FLTOVF = 4
	FPE_FLTUND = 5
	FPE_FLTRES = 6
	FPE_FLTINV = 7
	FPE_FLTSUB = 8

	BUS_ADRALN = 1
	BUS_ADRERR = 2
	BUS_OBJERR = 3

	SEGV_MAPERR = 1
	SEGV_ACCERR = 2
	SEGV_BNDERR = 3
	SEGV_PKUERR = 4
)

// Code is a signal code and its symbolic name.
type Code struct {
	Code int
	Name string
}

// Descriptor describes one fatal signal and the codes it can be raised with.
type Descriptor struct {
	Signal syscall.Signal
	Name   string
	Codes  []Code
}

var (
	illCodes = []Code{
		{ILL_ILLOPC, "ILL_ILLOPC"},
		{ILL_ILLTRP, "ILL_ILLTRP"},
		{ILL_PRVOPC, "ILL_PRVOPC"},
		{ILL_ILLOPN, "ILL_ILLOPN"},
		{ILL_ILLADR, "ILL_ILLADR"},
		{ILL_PRVREG, "ILL_PRVREG"},
		{ILL_COPROC, "ILL_COPROC"},
		{ILL_BADSTK, "ILL_BADSTK"},
	}
	trapCodes = []Code{
		{0, "0"},
		{TRAP_BRKPT, "TRAP_BRKPT"},
		{TRAP_TRACE, "TRAP_TRACE"},
	}
	fpeCodes = []Code{
		{FPE_FLTDIV, "FPE_FLTDIV"},
		{FPE_FLTOVF, "FPE_FLTOVF"},
		{FPE_FLTUND, "FPE_FLTUND"},
		{FPE_FLTRES, "FPE_FLTRES"},
		{FPE_FLTINV, "FPE_FLTINV"},
		{FPE_FLTSUB, "FPE_FLTSUB"},
		{FPE_INTDIV, "FPE_INTDIV"},
		{FPE_INTOVF, "FPE_INTOVF"},
	}
	busCodes = []Code{
		{BUS_ADRALN, "BUS_ADRALN"},
		{BUS_ADRERR, "BUS_ADRERR"},
		{BUS_OBJERR, "BUS_OBJERR"},
	}
	segvCodes = []Code{
		{SEGV_MAPERR, "SEGV_MAPERR"},
		{SEGV_ACCERR, "SEGV_ACCERR"},
		{SEGV_BNDERR, "SEGV_BNDERR"},
		{SEGV_PKUERR, "SEGV_PKUERR"},
	}
)

// Dereferencing a NULL pointer raises SIGSEGV/SEGV_MAPERR on amd64 and arm64,
// but SIGTRAP with code 0 is common for runtime traps on arm64.
var fatalSignals = [...]Descriptor{
	{Signal: unix.SIGABRT, Name: "SIGABRT"},
	{Signal: unix.SIGBUS, Name: "SIGBUS", Codes: busCodes},
	{Signal: unix.SIGFPE, Name: "SIGFPE", Codes: fpeCodes},
	{Signal: unix.SIGILL, Name: "SIGILL", Codes: illCodes},
	{Signal: unix.SIGPIPE, Name: "SIGPIPE"},
	{Signal: unix.SIGSEGV, Name: "SIGSEGV", Codes: segvCodes},
	{Signal: unix.SIGSYS, Name: "SIGSYS"},
	{Signal: unix.SIGTRAP, Name: "SIGTRAP", Codes: trapCodes},
	{Signal: unix.SIGTERM, Name: "SIGTERM"},
}

func lookup(sig syscall.Signal) *Descriptor {
	for i := range fatalSignals {
		if fatalSignals[i].Signal == sig {
			return &fatalSignals[i]
		}
	}
	return nil
}

// SignalName returns the name of a fatal signal.
func SignalName(sig syscall.Signal) (string, bool) {
	d := lookup(sig)
	if d == nil {
		return "", false
	}
	return d.Name, true
}

// SignalCodeName returns the name of a signal code, e.g. SEGV_MAPERR.
func SignalCodeName(sig syscall.Signal, code int) (string, bool) {
	d := lookup(sig)
	if d == nil {
		return "", false
	}
	for _, c := range d.Codes {
		if c.Code == code {
			return c.Name, true
		}
	}
	return "", false
}

// FatalSignals returns the signals treated as crashes.
func FatalSignals() []syscall.Signal {
	sigs := make([]syscall.Signal, 0, len(fatalSignals))
	for _, d := range fatalSignals {
		sigs = append(sigs, d.Signal)
	}
	return sigs
}

func NumFatalSignals() int {
	return len(fatalSignals)
}

func IsFatal(sig syscall.Signal) bool {
	return lookup(sig) != nil
}

// Descriptors returns a copy of the fatal signal table.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(fatalSignals))
	for i, d := range fatalSignals {
		d.Codes = append([]Code(nil), d.Codes...)
		out[i] = d
	}
	return out
}
