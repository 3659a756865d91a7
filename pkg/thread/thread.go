package thread

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/crashenv/internal/utils"
)

// Thread is a kernel thread id. It is only meaningful within the
// process it was enumerated from.
type Thread int

// Invalid is never a valid thread.
const Invalid Thread = 0

const defaultProcRoot = "/proc"

var (
	ErrInvalidPid   = errors.New("invalid pid")
	ErrNoNSpid      = errors.New("no NSpid entry in task status")
	ErrNoQueueName  = errors.New("thread is not waiting on a kernel channel")
	ErrNoThreadName = errors.New("thread has no name")
)

// Self returns the calling OS thread.
func Self() Thread {
	return Thread(unix.Gettid())
}

// ProcFS reads thread metadata of one process from procfs.
type ProcFS struct {
	pid  int
	root string
}

type ProcFSOption func(*ProcFS)

// WithProcRoot overrides the procfs mount point.
func WithProcRoot(root string) ProcFSOption {
	return func(p *ProcFS) {
		p.root = root
	}
}

func NewProcFS(pid int, opts ...ProcFSOption) (*ProcFS, error) {
	if pid <= 0 {
		return nil, errors.Wrapf(ErrInvalidPid, "%d", pid)
	}
	p := &ProcFS{pid: pid, root: defaultProcRoot}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *ProcFS) Pid() int {
	return p.pid
}

// Path returns the procfs path of a process-level file, e.g. "maps".
func (p *ProcFS) Path(name string) string {
	return filepath.Join(p.root, strconv.Itoa(p.pid), name)
}

func (p *ProcFS) taskPath(t Thread, name string) string {
	return filepath.Join(p.root, strconv.Itoa(p.pid), "task", strconv.Itoa(int(t)), name)
}

// Threads enumerates the threads of the process in ascending id order,
// so the main thread comes first.
func (p *ProcFS) Threads() ([]Thread, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, strconv.Itoa(p.pid), "task"))
	if err != nil {
		return nil, errors.Wrap(err, "error reading task directory")
	}
	threads := make([]Thread, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil || tid <= 0 {
			continue
		}
		threads = append(threads, Thread(tid))
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i] < threads[j] })

	return threads, nil
}

func (p *ProcFS) Name(t Thread) (string, error) {
	data, err := os.ReadFile(p.taskPath(t, "comm"))
	if err != nil {
		return "", errors.Wrap(err, "error reading thread name")
	}
	name := utils.CleanComm(data)
	if name == "" {
		return "", ErrNoThreadName
	}
	return name, nil
}

// QueueName returns the kernel wait channel the thread is blocked on.
func (p *ProcFS) QueueName(t Thread) (string, error) {
	data, err := os.ReadFile(p.taskPath(t, "wchan"))
	if err != nil {
		return "", errors.Wrap(err, "error reading thread wait channel")
	}
	name := utils.CleanComm(data)
	if name == "" || name == "0" {
		return "", ErrNoQueueName
	}
	return name, nil
}

// LocalID returns the id of the thread in the innermost pid namespace,
// that is the id the process sees for itself.
func (p *ProcFS) LocalID(t Thread) (uint64, error) {
	data, err := os.ReadFile(p.taskPath(t, "status"))
	if err != nil {
		return 0, errors.Wrap(err, "error reading thread status")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "NSpid:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "NSpid:"))
		if len(fields) == 0 {
			break
		}
		id, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "error parsing NSpid")
		}
		return id, nil
	}
	return 0, ErrNoNSpid
}
