package ipc

import (
	"context"
	"net"
	"time"

	"codeberg.org/mutker/waysn/internal/errors"
)

// DefaultTimeout bounds an exchange when ctx carries no deadline.
const DefaultTimeout = 5 * time.Second

// Send performs one exchange with the daemon listening on path: it writes
// cmd and returns the daemon's response.
func Send(ctx context.Context, path string, cmd Command) (Response, error) {
	errFactory := errors.New()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrUnavailable, err).WithData(struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, errFactory.Wrap(errors.ErrUnavailable, err)
	}

	if err := WriteCommand(conn, cmd); err != nil {
		return nil, err
	}

	return ReadResponse(conn)
}
