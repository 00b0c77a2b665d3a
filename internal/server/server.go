// Package server accepts client connections on the daemon socket and
// hands decoded commands to the event loop.
//
// Each connection carries exactly one exchange: one framed command in, one
// framed response out. Connection goroutines only do framing; every command
// is executed by whoever drains Requests.
package server

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/instance"
	"codeberg.org/mutker/waysn/internal/ipc"
	"codeberg.org/mutker/waysn/internal/logger"
	"github.com/google/uuid"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	socketMode = 0o600
)

// Request is one decoded command and its private reply slot.
type Request struct {
	ID      string
	Command ipc.Command
	reply   chan ipc.Response
}

// NewRequest returns a Request with an empty reply slot.
func NewRequest(id string, cmd ipc.Command) *Request {
	return &Request{ID: id, Command: cmd, reply: make(chan ipc.Response, 1)}
}

// Reply answers the request. It never blocks; only the first reply is
// delivered.
func (r *Request) Reply(resp ipc.Response) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Response returns the reply channel.
func (r *Request) Response() <-chan ipc.Response {
	return r.reply
}

type Server struct {
	path     string
	log      logger.Logger
	listener *net.UnixListener
	requests chan *Request
	done     chan struct{}

	mu         sync.Mutex
	closed     bool
	serving    bool
	serveDone  chan struct{}
	closeOnce  sync.Once
	closeErr   error
	activeConn sync.WaitGroup
}

// Listen binds the socket at path. The caller is expected to have claimed
// path with instance.Claim.
func Listen(path string, log logger.Logger) (*Server, error) {
	errFactory := errors.New()

	addr := &net.UnixAddr{Name: path, Net: "unix"}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrBindSocket, err).WithData(struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}
	// Close removes the path itself, exactly once.
	listener.SetUnlinkOnClose(false)

	if err := os.Chmod(path, socketMode); err != nil {
		listener.Close()
		instance.Release(path)
		return nil, errFactory.Wrap(errors.ErrBindSocket, err)
	}

	return &Server{
		path:      path,
		log:       log,
		listener:  listener,
		requests:  make(chan *Request),
		done:      make(chan struct{}),
		serveDone: make(chan struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Requests delivers decoded commands. Every Request must be answered with
// Reply.
func (s *Server) Requests() <-chan *Request {
	return s.requests
}

// Serve accepts connections until the server is closed or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.serving {
		s.mu.Unlock()
		return nil
	}
	s.serving = true
	s.mu.Unlock()
	defer close(s.serveDone)

	s.log.Info().Str("path", s.path).Msg("Listening for commands")

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("Failed to accept connection")
			continue
		}

		s.activeConn.Add(1)
		go func() {
			defer s.activeConn.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting, waits for in-flight connections and removes the
// socket path. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		serving := s.serving
		s.mu.Unlock()

		close(s.done)
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = errors.New().Wrap(errors.ErrShutdownFailed, err)
		}
		if serving {
			<-s.serveDone
		}
		s.activeConn.Wait()

		if err := instance.Release(s.path); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.log.Debug().Str("path", s.path).Msg("Command socket removed")
	})

	return s.closeErr
}

func (s *Server) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("conn", id)

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Shutdown cuts a pending read short. A reply already in hand is still
	// written since only the read deadline moves.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.done:
		case <-ctx.Done():
		case <-stop:
			return
		}
		conn.SetReadDeadline(time.Now())
	}()

	cmd, err := ipc.ReadCommand(conn)
	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			log.ErrorWithCode(appErr).Msg("Dropping connection")
		} else {
			log.Error().Err(err).Msg("Dropping connection")
		}
		return
	}

	log.Debug().Str("kind", string(cmd.Kind())).Msg("Command received")

	req := NewRequest(id, cmd)
	select {
	case s.requests <- req:
	case <-s.done:
		return
	case <-ctx.Done():
		return
	}

	var resp ipc.Response
	select {
	case resp = <-req.reply:
	case <-s.done:
		// The loop may have answered just before shutting down.
		select {
		case resp = <-req.reply:
		default:
			return
		}
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ipc.WriteResponse(conn, resp); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
