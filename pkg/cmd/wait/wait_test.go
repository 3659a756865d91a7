package wait

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/cmd/options"
)

func TestWait_Timeout(t *testing.T) {
	o := &Options{
		socketPath: filepath.Join(t.TempDir(), "missing.sock"),
		timeout:    50 * time.Millisecond,
		Options:    options.NewOptions(),
	}

	start := time.Now()
	require.Error(t, o.Run(nil, nil))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestNewCommand_Flags(t *testing.T) {
	cmd := NewCommand(options.NewOptions())

	require.Equal(t, CmdName, cmd.Name())
	require.Equal(t, "2m0s", cmd.Flags().Lookup("timeout").DefValue)
	require.NotNil(t, cmd.Flags().ShorthandLookup("s"))
}
