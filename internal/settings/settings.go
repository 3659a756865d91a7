package settings

import "fmt"

const (
	CmdName = "crashenv"

	// EnvPrefix prefixes the environment variables overriding flags,
	// e.g. CRASHENV_LOG_LEVEL.
	EnvPrefix = "CRASHENV"
)

var (
	PidFile             = fmt.Sprintf("/tmp/%s.pid", CmdName)
	LogFile             = fmt.Sprintf("/tmp/%s.log", CmdName)
	HealthCheckSockPath = fmt.Sprintf("/tmp/%s.sock", CmdName)
)
