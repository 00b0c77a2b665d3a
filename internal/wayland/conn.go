package wayland

import (
	"os"
	"path/filepath"

	"codeberg.org/mutker/waysn/internal/errors"
	"golang.org/x/sys/unix"
)

const (
	readBufferSize = 4096

	// maxFDsOut matches libwayland's per-sendmsg descriptor limit.
	maxFDsOut = 28
)

// chunk is a run of encoded requests sent with one sendmsg, together with
// the descriptors they carry.
type chunk struct {
	data  []byte
	files []*os.File
}

// Conn is a client connection to a Wayland compositor. It is not safe for
// concurrent use; one goroutine owns it.
type Conn struct {
	fd      int
	in      []byte
	pending []chunk
	nextID  ObjectID
	closed  bool
}

// Dial connects to the compositor named by WAYLAND_DISPLAY, resolved
// against XDG_RUNTIME_DIR unless it is absolute.
func Dial() (*Conn, error) {
	errFactory := errors.New()

	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}

	path := display
	if !filepath.IsAbs(display) {
		runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
		if runtimeDir == "" {
			return nil, errFactory.WithData(errors.ErrMissingEnvironment, "XDG_RUNTIME_DIR")
		}
		path = filepath.Join(runtimeDir, display)
	}

	return DialPath(path)
}

// DialPath connects to the compositor socket at path.
func DialPath(path string) (*Conn, error) {
	errFactory := errors.New()

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrCompositorIO, err)
	}

	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errFactory.WithData(errors.ErrCompositorIO, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "connect",
			Path:  path,
			Error: err.Error(),
		})
	}

	return NewConn(fd)
}

// NewConn wraps an already connected stream socket and switches it to
// non-blocking mode. The Conn owns fd.
func NewConn(fd int) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.New().Wrap(errors.ErrCompositorIO, err)
	}

	return &Conn{fd: fd, nextID: DisplayID + 1}, nil
}

// Fd returns the socket descriptor for readiness polling.
func (c *Conn) Fd() int {
	return c.fd
}

// NewID allocates the next client-side object id. Ids are never reused.
func (c *Conn) NewID() ObjectID {
	id := c.nextID
	c.nextID++

	return id
}

// Send queues r for the next Flush. Files attached to r are owned by the
// connection from here on and are closed once they have been written.
func (c *Conn) Send(r *Request) error {
	data, err := r.Encode()
	if err != nil {
		for _, f := range r.files {
			f.Close()
		}
		return errors.New().Wrap(errors.ErrCompositorProtocol, err)
	}

	n := len(c.pending)
	if n == 0 || (len(r.files) > 0 && len(c.pending[n-1].files)+len(r.files) > maxFDsOut) {
		c.pending = append(c.pending, chunk{})
		n++
	}

	last := &c.pending[n-1]
	last.data = append(last.data, data...)
	last.files = append(last.files, r.files...)

	return nil
}

// Flush writes all queued requests. Descriptors ride on the first sendmsg
// of their chunk and their files are closed only after the whole chunk has
// been handed to the kernel.
func (c *Conn) Flush() error {
	for len(c.pending) > 0 {
		if err := c.writeChunk(&c.pending[0]); err != nil {
			return err
		}
		c.pending[0] = chunk{}
		c.pending = c.pending[1:]
	}
	c.pending = nil

	return nil
}

func (c *Conn) writeChunk(ch *chunk) error {
	errFactory := errors.New()

	var oob []byte
	if len(ch.files) > 0 {
		fds := make([]int, len(ch.files))
		for i, f := range ch.files {
			fds[i] = int(f.Fd())
		}
		oob = unix.UnixRights(fds...)
	}

	data := ch.data
	for len(data) > 0 {
		n, err := unix.SendmsgN(c.fd, data, oob, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			if err := c.wait(unix.POLLOUT); err != nil {
				return err
			}
			continue
		case err == unix.EPIPE || err == unix.ECONNRESET:
			return errFactory.Wrap(errors.ErrCompositorDisconnected, err)
		case err != nil:
			return errFactory.Wrap(errors.ErrCompositorIO, err)
		}

		if n > 0 {
			oob = nil
		}
		data = data[n:]
	}

	for _, f := range ch.files {
		f.Close()
	}

	return nil
}

// ReadMessages drains everything the kernel has buffered for the socket
// without blocking and returns the complete messages received so far. An
// empty result with a nil error means the read would have blocked.
//
// When the peer has hung up, the messages that arrived before the hangup
// are returned together with an ErrCompositorDisconnected error.
func (c *Conn) ReadMessages() ([]Message, error) {
	errFactory := errors.New()

	buf := make([]byte, readBufferSize)
	oob := make([]byte, unix.CmsgSpace(4*maxFDsOut))

	var hangup error
	for hangup == nil {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err == unix.ECONNRESET {
			hangup = errFactory.Wrap(errors.ErrCompositorDisconnected, err)
			break
		}
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrCompositorIO, err)
		}

		if oobn > 0 {
			closeReceivedFDs(oob[:oobn])
		}
		if n == 0 {
			hangup = errFactory.New(errors.ErrCompositorDisconnected)
			break
		}

		c.in = append(c.in, buf[:n]...)
	}

	msgs, rest, err := ParseMessages(c.in)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrCompositorProtocol, err)
	}
	c.in = append([]byte(nil), rest...)

	return msgs, hangup
}

// WaitReadable blocks until the socket has data or has been hung up.
func (c *Conn) WaitReadable() error {
	return c.wait(unix.POLLIN)
}

func (c *Conn) wait(events int16) error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.New().Wrap(errors.ErrCompositorIO, err)
		}

		return nil
	}
}

// Close drops queued requests, closing any files they carried, and closes
// the socket.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	for _, ch := range c.pending {
		for _, f := range ch.files {
			f.Close()
		}
	}
	c.pending = nil

	return unix.Close(c.fd)
}

// closeReceivedFDs closes descriptors the compositor passed to us. None of
// the interfaces waysn binds send fds, so any that arrive are unused.
func closeReceivedFDs(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.Close(fd)
		}
	}
}
