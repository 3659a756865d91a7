package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultWidth = 80

// PrintRight prints text aligned to the right of the terminal, on the
// current line.
func PrintRight(text string) {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width = defaultWidth
	}

	padding := width - len(text)
	if padding < 0 {
		padding = 0
	}

	fmt.Printf("\r%s%s", spaces(padding), text)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func spaces(n int) string {
	return fmt.Sprintf("%*s", n, "")
}

// ProgressBar renders percent, clamped to [0, 100], over width cells.
func ProgressBar(percent int, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := (percent * width) / 100
	return fmt.Sprintf("%s%s",
		strings.Repeat("█", filled),
		strings.Repeat(" ", width-filled),
	)
}
