package threads

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/cmd/options"
)

const testPid = 4242

func writeTask(t *testing.T, root string, tid int, comm, wchan, status string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(testPid), "task", strconv.Itoa(tid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wchan"), []byte(wchan), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
}

func TestThreads(t *testing.T) {
	root := t.TempDir()
	writeTask(t, root, testPid, "server\n", "do_epoll_wait", "Name:\tserver\nNSpid:\t4242\t7\n")
	writeTask(t, root, testPid+1, "worker\n", "0", "Name:\tworker\nNSpid:\t4243\t8\n")

	o := &Options{pid: testPid, procRoot: root, Options: options.NewOptions()}
	cmd := NewCommand(o.Options)
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, o.Run(cmd, nil))

	text := out.String()
	require.Contains(t, text, "TID")
	require.Regexp(t, `4242\s+7\s+server\s+do_epoll_wait`, text)
	require.Regexp(t, `4243\s+8\s+worker\s+-`, text)
	require.Contains(t, text, "2 threads")
}

func TestThreads_NoPid(t *testing.T) {
	o := &Options{pid: -1, Options: options.NewOptions()}
	require.ErrorIs(t, o.Run(NewCommand(o.Options), nil), ErrNoPid)
}

func TestThreads_MissingProcess(t *testing.T) {
	o := &Options{pid: testPid, procRoot: t.TempDir(), Options: options.NewOptions()}
	require.Error(t, o.Run(NewCommand(o.Options), nil))
}
