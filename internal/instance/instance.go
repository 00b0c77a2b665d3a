// Package instance makes sure only one daemon serves a given socket path.
package instance

import (
	"net"
	"os"
	"time"

	"codeberg.org/mutker/waysn/internal/errors"
)

const liveDialTimeout = 500 * time.Millisecond

// Claim prepares path for a new listener. If another daemon answers on
// path, Claim returns ErrAlreadyRunning. A leftover socket nobody answers
// on is removed.
func Claim(path string) error {
	errFactory := errors.New()

	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", path, liveDialTimeout)
	if err == nil {
		conn.Close()
		return errFactory.WithData(errors.ErrAlreadyRunning, path)
	}

	// Stale socket from a daemon that did not shut down cleanly.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrBindSocket, err)
	}

	return nil
}

// Release removes the socket path.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
