package gamma

import (
	"encoding/binary"
	"io"
	"os"

	"codeberg.org/mutker/waysn/internal/errors"
	"golang.org/x/sys/unix"
)

const memfdName = "waysn-gamma-ramp"

// NewRampFile writes table in native byte order to an anonymous file and
// rewinds it. The caller owns the returned file and must keep it open until
// the message carrying its descriptor has been flushed.
func NewRampFile(table []uint16) (*os.File, error) {
	errFactory := errors.New()

	f, err := anonymousFile()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrResourceExhausted, err)
	}

	buf := make([]byte, 2*len(table))
	for i, v := range table {
		binary.NativeEndian.PutUint16(buf[2*i:], v)
	}

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return nil, errFactory.WithData(errors.ErrResourceExhausted, struct {
			Phase string
			Error string
		}{
			Phase: "write_ramp",
			Error: err.Error(),
		})
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errFactory.WithData(errors.ErrResourceExhausted, struct {
			Phase string
			Error string
		}{
			Phase: "rewind_ramp",
			Error: err.Error(),
		})
	}

	return f, nil
}

// anonymousFile prefers memfd_create(2) and falls back to an unlinked
// temporary file on kernels without it.
func anonymousFile() (*os.File, error) {
	fd, err := unix.MemfdCreate(memfdName, unix.MFD_CLOEXEC)
	if err == nil {
		return os.NewFile(uintptr(fd), memfdName), nil
	}
	if err != unix.ENOSYS {
		return nil, err
	}

	f, err := os.CreateTemp("", memfdName+"-*")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}
