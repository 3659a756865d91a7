package common

import (
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidPidFile = errors.New("invalid PID file")

// ReadPidFile returns the pid stored in path and the time it was written.
func ReadPidFile(path string) (int, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, time.Time{}, errors.Wrap(ErrInvalidPidFile, path)
	}

	return pid, info.ModTime(), nil
}

func WritePidFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func IsRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// IsDaemonRunning reports whether the process of the pid file is alive.
func IsDaemonRunning(pidFile string) bool {
	pid, _, err := ReadPidFile(pidFile)
	if err != nil {
		return false
	}
	return IsRunning(pid)
}
