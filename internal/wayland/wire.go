package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// ObjectID names a protocol object on one connection.
type ObjectID uint32

const headerSize = 8

// maxMessageSize is the largest message the 16-bit size field can carry.
const maxMessageSize = 1<<16 - 1

var (
	ErrMalformedMessage = errors.New("wayland: malformed message")
	ErrShortArgument    = errors.New("wayland: message too short for argument")
	ErrMessageTooLarge  = errors.New("wayland: message too large")
)

// Message is one inbound event: the sending object, the event opcode and
// the raw argument bytes.
type Message struct {
	Sender ObjectID
	Opcode uint16
	Args   []byte
}

// Reader returns a decoder over the message arguments.
func (m Message) Reader() *ArgReader {
	return &ArgReader{data: m.Args}
}

// Request is an outbound message under construction.
type Request struct {
	sender ObjectID
	opcode uint16
	body   []byte
	files  []*os.File
}

// NewRequest starts a request from sender with the given opcode.
func NewRequest(sender ObjectID, opcode uint16) *Request {
	return &Request{sender: sender, opcode: opcode}
}

func (r *Request) PutUint(v uint32) *Request {
	r.body = binary.NativeEndian.AppendUint32(r.body, v)
	return r
}

func (r *Request) PutInt(v int32) *Request {
	return r.PutUint(uint32(v))
}

func (r *Request) PutObject(id ObjectID) *Request {
	return r.PutUint(uint32(id))
}

// PutString appends a NUL-terminated, 4-byte padded string.
func (r *Request) PutString(s string) *Request {
	r.PutUint(uint32(len(s) + 1))
	r.body = append(r.body, s...)
	r.body = append(r.body, 0)
	for len(r.body)%4 != 0 {
		r.body = append(r.body, 0)
	}
	return r
}

// PutFile attaches f as an fd argument. Fds travel out of band, so the
// body is unchanged; the connection takes ownership of f.
func (r *Request) PutFile(f *os.File) *Request {
	r.files = append(r.files, f)
	return r
}

// Files returns the descriptors attached to the request.
func (r *Request) Files() []*os.File {
	return r.files
}

// Encode returns the framed request bytes.
func (r *Request) Encode() ([]byte, error) {
	size := headerSize + len(r.body)
	if size > maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	buf := make([]byte, headerSize, size)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(r.sender))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(size)<<16|uint32(r.opcode))

	return append(buf, r.body...), nil
}

// ParseMessages splits buf into complete messages. The unconsumed tail of
// a partially received message is returned as rest.
func ParseMessages(buf []byte) (msgs []Message, rest []byte, err error) {
	for len(buf) >= headerSize {
		sender := binary.NativeEndian.Uint32(buf[0:4])
		word := binary.NativeEndian.Uint32(buf[4:8])
		size := int(word >> 16)
		if size < headerSize || size%4 != 0 {
			return msgs, buf, fmt.Errorf("%w: size %d from object %d", ErrMalformedMessage, size, sender)
		}
		if len(buf) < size {
			break
		}

		msgs = append(msgs, Message{
			Sender: ObjectID(sender),
			Opcode: uint16(word & 0xffff),
			Args:   buf[headerSize:size],
		})
		buf = buf[size:]
	}

	return msgs, buf, nil
}

// ArgReader decodes arguments in order. The first failure sticks and is
// reported by Err; later reads return zero values.
type ArgReader struct {
	data []byte
	err  error
}

func (a *ArgReader) Uint() uint32 {
	if a.err != nil {
		return 0
	}
	if len(a.data) < 4 {
		a.err = ErrShortArgument
		return 0
	}
	v := binary.NativeEndian.Uint32(a.data[:4])
	a.data = a.data[4:]

	return v
}

func (a *ArgReader) Int() int32 {
	return int32(a.Uint())
}

func (a *ArgReader) Object() ObjectID {
	return ObjectID(a.Uint())
}

// String decodes a string argument. A null string decodes as "".
func (a *ArgReader) String() string {
	n := int(a.Uint())
	if a.err != nil || n == 0 {
		return ""
	}

	padded := (n + 3) &^ 3
	if len(a.data) < padded {
		a.err = ErrShortArgument
		return ""
	}
	s := string(a.data[:n-1])
	a.data = a.data[padded:]

	return s
}

// Array decodes an array argument.
func (a *ArgReader) Array() []byte {
	n := int(a.Uint())
	if a.err != nil {
		return nil
	}

	padded := (n + 3) &^ 3
	if len(a.data) < padded {
		a.err = ErrShortArgument
		return nil
	}
	v := a.data[:n]
	a.data = a.data[padded:]

	return v
}

func (a *ArgReader) Err() error {
	return a.err
}
