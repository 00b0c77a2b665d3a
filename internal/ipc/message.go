package ipc

import (
	"io"

	"codeberg.org/mutker/waysn/internal/errors"
	"github.com/fxamacker/cbor/v2"
)

// Kind tags the body of an envelope.
type Kind string

const (
	KindSetTemperature Kind = "set_temperature"
	KindGetTemperature Kind = "get_temperature"
	KindKill           Kind = "kill"

	KindOk          Kind = "ok"
	KindTemperature Kind = "temperature"
	KindError       Kind = "error"
)

// Command is a request from a client to the daemon.
type Command interface {
	Kind() Kind
}

// Response is the daemon's single answer to a Command.
type Response interface {
	Kind() Kind
}

// SetTemperature applies kelvin and gamma to the named outputs, or to
// every output when Outputs is empty.
type SetTemperature struct {
	Kelvin  uint32   `cbor:"kelvin" json:"kelvin" yaml:"kelvin"`
	Gamma   float32  `cbor:"gamma" json:"gamma" yaml:"gamma"`
	Outputs []string `cbor:"outputs" json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// GetTemperature asks for the state of the named outputs, or of all.
type GetTemperature struct {
	Outputs []string `cbor:"outputs" json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Kill stops the daemon after it has answered.
type Kill struct{}

type Ok struct{}

// OutputState is the reported state of one output.
type OutputState struct {
	Kelvin uint32  `cbor:"kelvin" json:"kelvin" yaml:"kelvin"`
	Gamma  float32 `cbor:"gamma" json:"gamma" yaml:"gamma"`
}

// Temperature maps output names to their state.
type Temperature struct {
	Temperatures map[string]OutputState `cbor:"temperatures" json:"temperatures" yaml:"temperatures"`
}

// Err carries a failure message back to the client.
type Err struct {
	Message string `cbor:"message" json:"message" yaml:"message"`
}

func (SetTemperature) Kind() Kind { return KindSetTemperature }
func (GetTemperature) Kind() Kind { return KindGetTemperature }
func (Kill) Kind() Kind           { return KindKill }
func (Ok) Kind() Kind             { return KindOk }
func (Temperature) Kind() Kind    { return KindTemperature }
func (Err) Kind() Kind            { return KindError }

type envelope struct {
	Kind Kind            `cbor:"kind"`
	Body cbor.RawMessage `cbor:"body"`
}

func encode(kind Kind, body any) ([]byte, error) {
	errFactory := errors.New()

	raw, err := marshal(body)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrEncodeFailed, err)
	}

	data, err := marshal(envelope{Kind: kind, Body: raw})
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrEncodeFailed, err)
	}

	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return env, errors.New().Wrap(errors.ErrDecodeFailed, err)
	}

	return env, nil
}

func decodeBody(env envelope, v any) error {
	if len(env.Body) == 0 {
		return errors.New().WithData(errors.ErrDecodeFailed, struct {
			Kind  Kind
			Error string
		}{
			Kind:  env.Kind,
			Error: "missing body",
		})
	}
	if err := unmarshal(env.Body, v); err != nil {
		return errors.New().Wrap(errors.ErrDecodeFailed, err)
	}

	return nil
}

// EncodeCommand returns the CBOR envelope for cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	return encode(cmd.Kind(), cmd)
}

// DecodeCommand parses a command envelope.
func DecodeCommand(data []byte) (Command, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Kind {
	case KindSetTemperature:
		var cmd SetTemperature
		if err := decodeBody(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case KindGetTemperature:
		var cmd GetTemperature
		if err := decodeBody(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case KindKill:
		return Kill{}, nil
	default:
		return nil, errors.New().WithData(errors.ErrUnknownKind, env.Kind)
	}
}

// EncodeResponse returns the CBOR envelope for resp.
func EncodeResponse(resp Response) ([]byte, error) {
	return encode(resp.Kind(), resp)
}

// DecodeResponse parses a response envelope.
func DecodeResponse(data []byte) (Response, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Kind {
	case KindOk:
		return Ok{}, nil
	case KindTemperature:
		var resp Temperature
		if err := decodeBody(env, &resp); err != nil {
			return nil, err
		}
		if resp.Temperatures == nil {
			resp.Temperatures = map[string]OutputState{}
		}
		return resp, nil
	case KindError:
		var resp Err
		if err := decodeBody(env, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	default:
		return nil, errors.New().WithData(errors.ErrUnknownKind, env.Kind)
	}
}

// WriteCommand frames and writes cmd.
func WriteCommand(w io.Writer, cmd Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	return WriteFrame(w, data)
}

// ReadCommand reads one framed command.
func ReadCommand(r io.Reader) (Command, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	return DecodeCommand(data)
}

// WriteResponse frames and writes resp.
func WriteResponse(w io.Writer, resp Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}

	return WriteFrame(w, data)
}

// ReadResponse reads one framed response.
func ReadResponse(r io.Reader) (Response, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	return DecodeResponse(data)
}
