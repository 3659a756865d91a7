package healthcheck

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/internal/settings"
)

// ReadyMsg is written to every client once the agent has seized the
// target process.
const ReadyMsg = 0x01

var (
	ErrNotSocket   = errors.New("path exists but is not a unix socket")
	ErrNotListened = errors.New("server is not listening")
)

// Server answers readiness probes over a unix socket. Clients connect
// and block until the agent is ready, then read ReadyMsg.
type Server struct {
	ln         net.Listener
	readyCh    chan struct{}
	readyOnce  sync.Once
	socketPath string
	logger     log.Logger
}

type ServerOpt func(*Server)

func WithSocketPath(path string) ServerOpt {
	return func(s *Server) {
		s.socketPath = path
	}
}

func WithLogger(logger log.Logger) ServerOpt {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(opts ...ServerOpt) *Server {
	s := &Server{
		socketPath: settings.HealthCheckSockPath,
		readyCh:    make(chan struct{}),
		logger:     log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "healthcheck").Logger()

	return s
}

func (s *Server) SocketPath() string {
	return s.socketPath
}

// Listen creates the socket, replacing a stale one.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove stale socket")
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrap(err, "failed to listen on UDS")
	}
	s.ln = ln

	return nil
}

// Serve accepts probes until ctx is done, then removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return ErrNotListened
	}
	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			s.logger.Debug().Err(err).Msg("error shutting down")
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Msg("stopping accepting connections")
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		go s.processConnection(ctx, conn)
	}
}

// NotifyReadiness releases every pending and future probe. Calling it
// more than once has no effect.
func (s *Server) NotifyReadiness() {
	s.readyOnce.Do(func() {
		s.logger.Debug().Msg("marking readiness")
		close(s.readyCh)
	})
}

// Shutdown closes the listener and removes the socket file.
func (s *Server) Shutdown() error {
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Msg("error closing listener")
		}
	}
	if err := os.Remove(s.socketPath); err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrap(err, "error removing socket")
		}
	}

	return nil
}

func (s *Server) processConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	select {
	case <-s.readyCh:
		if !s.isConnectionAlive(conn) {
			s.logger.Debug().Msg("connection is closed")
			return
		}
		if err := s.safeWrite(conn, []byte{ReadyMsg}); err != nil {
			if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				s.logger.Debug().Err(err).Msg("failed to write")
			}
		}
	case <-ctx.Done():
		s.logger.Debug().Msg("ignoring sending readiness message as context is canceled")
	}
}

func (s *Server) isConnectionAlive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now())
	if _, err := conn.Read([]byte{}); err == io.EOF {
		return false
	}
	conn.SetReadDeadline(time.Time{})

	return true
}

func (s *Server) safeWrite(conn net.Conn, data []byte) error {
	if _, err := conn.Write(data); err != nil {
		switch {
		case errors.Is(err, syscall.EPIPE):
			return errors.Wrap(err, "peer closed the connection")
		case errors.Is(err, syscall.ECONNRESET):
			return errors.Wrap(err, "peer reset the connection")
		default:
			return errors.Wrap(err, "failed to write")
		}
	}
	return nil
}

// WaitReady probes socketPath every retryInterval until the server
// reports readiness or ctx is done.
func WaitReady(ctx context.Context, socketPath string, retryInterval time.Duration) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ready, err := probe(socketPath, retryInterval)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "timeout waiting for readiness")
		case <-ticker.C:
		}
	}
}

// probe returns an error only for conditions retrying cannot fix.
func probe(socketPath string, timeout time.Duration) (bool, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "error checking socket")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, errors.Wrap(ErrNotSocket, socketPath)
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return false, errors.Wrap(err, "failed connecting")
		}
		return false, nil
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false, nil
	}

	return buf[0] == ReadyMsg, nil
}
