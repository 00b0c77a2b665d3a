package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"codeberg.org/mutker/waysn/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: []byte{}},
		{name: "small", payload: []byte("hello")},
		{name: "at limit", payload: bytes.Repeat([]byte{0xab}, MaxFrameSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.payload))
			assert.Equal(t, frameHeaderSize+len(tt.payload), buf.Len())
			assert.Equal(t, uint32(len(tt.payload)), binary.BigEndian.Uint32(buf.Bytes()))

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrFrameTooLarge))
	assert.Zero(t, buf.Len())
}

func TestReadFrameErrors(t *testing.T) {
	oversized := make([]byte, 4)
	binary.BigEndian.PutUint32(oversized, MaxFrameSize+1)

	truncated := make([]byte, 4, 6)
	binary.BigEndian.PutUint32(truncated, 10)
	truncated = append(truncated, 'a', 'b')

	tests := []struct {
		name  string
		input []byte
		code  errors.ErrorCode
	}{
		{name: "empty stream", input: nil, code: errors.ErrDecodeFailed},
		{name: "short header", input: []byte{0, 0}, code: errors.ErrDecodeFailed},
		{name: "oversized length", input: oversized, code: errors.ErrFrameTooLarge},
		{name: "short payload", input: truncated, code: errors.ErrDecodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
