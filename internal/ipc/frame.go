package ipc

import (
	"encoding/binary"
	"io"

	"codeberg.org/mutker/waysn/internal/errors"
)

const (
	// MaxFrameSize bounds a single payload on the daemon socket.
	MaxFrameSize = 1 << 20

	frameHeaderSize = 4
)

// WriteFrame writes payload preceded by its big-endian u32 length.
func WriteFrame(w io.Writer, payload []byte) error {
	errFactory := errors.New()

	if len(payload) > MaxFrameSize {
		return errFactory.WithData(errors.ErrFrameTooLarge, struct {
			Size  int
			Limit int
		}{
			Size:  len(payload),
			Limit: MaxFrameSize,
		})
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return errFactory.Wrap(errors.ErrEncodeFailed, err)
	}

	return nil
}

// ReadFrame reads one length-prefixed payload. A length above MaxFrameSize
// is rejected before any payload is read.
func ReadFrame(r io.Reader) ([]byte, error) {
	errFactory := errors.New()

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrDecodeFailed, err).WithData(struct {
			Phase string
			Error string
		}{
			Phase: "header",
			Error: err.Error(),
		})
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, errFactory.WithData(errors.ErrFrameTooLarge, struct {
			Size  uint32
			Limit int
		}{
			Size:  size,
			Limit: MaxFrameSize,
		})
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errFactory.Wrap(errors.ErrDecodeFailed, err).WithData(struct {
			Phase string
			Error string
		}{
			Phase: "payload",
			Error: err.Error(),
		})
	}

	return payload, nil
}
