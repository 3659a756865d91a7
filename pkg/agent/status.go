package agent

import (
	"context"

	"github.com/maxgio92/crashenv/internal/output"
	"github.com/maxgio92/crashenv/pkg/machine"
)

func (a *Agent) printStatusBar(ctx context.Context) {
	output.StatusBar(ctx, statusRefreshInterval, func() {
		output.PrintRight(output.PrettyWatchStatus(output.WatchStatus{
			Pid:        a.pid,
			Threads:    len(a.cache.AllThreads()),
			MaxThreads: machine.MaxCapturedThreads,
			Captures:   int(a.captures.Load()),
			Since:      a.since,
		}))
	})
}
