package capture

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/maxgio92/crashenv/pkg/stack"
)

const registersPerLine = 4

var (
	colorField = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorError = color.New(color.Bold, color.FgHiRed).SprintFunc()
	colorAddr  = color.New(color.Faint).SprintfFunc()
	colorBold  = color.New(color.Bold).SprintfFunc()
	colorImage = color.New(color.Bold, color.FgHiMagenta).SprintfFunc()
)

// WriteText writes the report in a human readable form. Colors follow
// github.com/fatih/color, which disables them when not on a terminal.
func (r *Report) WriteText(w io.Writer) error {
	buf := new(bytes.Buffer)

	fmt.Fprintf(buf, "%s: %s", colorField("Process"), colorBold("%d", r.Pid))
	if r.Arch != "" {
		fmt.Fprintf(buf, " (%s)", r.Arch)
	}
	buf.WriteString("\n")
	fmt.Fprintf(buf, "%s: %s\n", colorField("Captured"), r.Time.Format(time.RFC3339))

	if s := r.Signal; s != nil {
		fmt.Fprintf(buf, "%s: %s", colorField("Exception"), colorError(s.Name))
		if s.CodeName != "" {
			fmt.Fprintf(buf, " (%s)", s.CodeName)
		} else {
			fmt.Fprintf(buf, " (code %d)", s.Code)
		}
		fmt.Fprintf(buf, " at %s\n", colorAddr("%#016x", s.FaultAddress))
	}
	if r.Instruction != "" {
		fmt.Fprintf(buf, "%s: %s\n", colorField("Instruction"), r.Instruction)
	}
	buf.WriteString("\n")

	for i := range r.Threads {
		writeThread(buf, &r.Threads[i])
	}
	for i := range r.Threads {
		if t := &r.Threads[i]; t.Crashed {
			writeRegisters(buf, t)
		}
	}

	_, err := w.Write(buf.Bytes())
	return errors.Wrap(err, "error writing report")
}

func writeThread(buf *bytes.Buffer, t *ThreadReport) {
	fmt.Fprintf(buf, "%s %s:", colorField("Thread"), colorBold("%d", t.Thread))
	if t.LocalID != 0 && t.LocalID != uint64(t.Thread) {
		fmt.Fprintf(buf, " %s: %d,", colorField("local id"), t.LocalID)
	}
	if t.Name != "" {
		fmt.Fprintf(buf, " %s: %s", colorField("name"), t.Name)
		if t.QueueName != "" {
			buf.WriteString(",")
		}
	}
	if t.QueueName != "" {
		fmt.Fprintf(buf, " %s: %s", colorField("queue"), t.QueueName)
	}
	if t.Crashed {
		buf.WriteString(colorError(" (Crashed)"))
	}
	if t.StackOverflow {
		buf.WriteString(colorError(" (Stack overflow)"))
	}
	buf.WriteString("\n")

	if t.Err != "" {
		fmt.Fprintf(buf, "  %s\n\n", t.Err)
		return
	}

	w := tabwriter.NewWriter(buf, 0, 0, 1, ' ', 0)
	for idx, f := range t.Frames {
		fmt.Fprintf(w, "  %02d: %s\t%s %s\n", idx, colorImage("%s", imageName(f)), colorAddr("%#x", f.Address), symbol(f))
	}
	w.Flush()
	if t.Truncated {
		buf.WriteString("  ...\n")
	}
	buf.WriteString("\n")
}

func writeRegisters(buf *bytes.Buffer, t *ThreadReport) {
	if len(t.Registers) == 0 {
		return
	}
	fmt.Fprintf(buf, "%s %s %s:\n", colorField("Thread"), colorBold("%d", t.Thread), colorField("registers"))

	w := tabwriter.NewWriter(buf, 0, 0, 2, ' ', tabwriter.AlignRight)
	for i, reg := range t.Registers {
		fmt.Fprintf(w, "%s: %s\t", reg.Name, colorAddr("%#016x", reg.Value))
		if (i+1)%registersPerLine == 0 {
			fmt.Fprint(w, "\n")
		}
	}
	if len(t.Registers)%registersPerLine != 0 {
		fmt.Fprint(w, "\n")
	}
	for _, reg := range t.ExceptionRegisters {
		fmt.Fprintf(w, "%s: %s\t", reg.Name, colorAddr("%#016x", reg.Value))
	}
	if len(t.ExceptionRegisters) > 0 {
		fmt.Fprint(w, "\n")
	}
	w.Flush()
	buf.WriteString("\n")
}

func imageName(f stack.Frame) string {
	if f.ImageName == "" {
		return "???"
	}
	return f.ImageName
}

func symbol(f stack.Frame) string {
	if f.SymbolName == "" {
		return ""
	}
	if f.Address > f.SymbolAddress && f.SymbolAddress != 0 {
		return fmt.Sprintf("%s + %#x", f.SymbolName, f.Address-f.SymbolAddress)
	}
	return f.SymbolName
}
