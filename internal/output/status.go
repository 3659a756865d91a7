package output

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusBar calls printF every refreshRate until ctx is done.
func StatusBar(ctx context.Context, refreshRate time.Duration, printF func()) {
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printF()
		case <-ctx.Done():
			return
		}
	}
}

// WatchStatus is what the run command reports while watching a process.
type WatchStatus struct {
	Pid        int
	Threads    int
	MaxThreads int
	Captures   int
	Since      time.Time
}

func PrettyWatchStatus(s WatchStatus) string {
	percent := 0
	if s.MaxThreads > 0 {
		percent = s.Threads * 100 / s.MaxThreads
	}
	return fmt.Sprintf("\r%-20s %-40s %-14s %-20s",
		fmt.Sprintf("Watching PID %d", s.Pid),
		fmt.Sprintf("Threads: [%s] %3d/%d", ProgressBar(percent, 20), s.Threads, s.MaxThreads),
		fmt.Sprintf("Crashes: %d", s.Captures),
		fmt.Sprintf("Since %s", humanize.Time(s.Since)),
	)
}
