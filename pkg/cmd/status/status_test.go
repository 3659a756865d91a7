package status

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/cmd/options"
)

func run(t *testing.T, pidFile string) string {
	t.Helper()
	cmd := NewCommand(options.NewOptions())
	o := &Options{pidFile: pidFile, Options: options.NewOptions()}

	var out bytes.Buffer
	cmd.SetOut(&out)
	o.Run(cmd, nil)

	return out.String()
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()

	require.Equal(t, "crashenv is not running\n", run(t, filepath.Join(dir, "missing.pid")))

	pidFile := filepath.Join(dir, "crashenv.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))
	out := run(t, pidFile)
	require.Contains(t, out, "crashenv is running (PID "+strconv.Itoa(os.Getpid()))
	require.Contains(t, out, "started ")
}
