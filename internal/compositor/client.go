// Package compositor drives the gamma-control protocol over a Wayland
// connection: it walks the registry, binds outputs and the gamma-control
// manager, and feeds decoded events into the output registry.
package compositor

import (
	"os"

	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/logger"
	"codeberg.org/mutker/waysn/internal/output"
	"codeberg.org/mutker/waysn/internal/wayland"
)

const (
	outputVersion  = wayland.OutputNameSince
	managerVersion = 1
)

type objectKind int

const (
	kindRegistry objectKind = iota
	kindCallback
	kindOutput
	kindGammaManager
	kindGammaControl
)

type object struct {
	kind    objectKind
	version uint32
}

// Client owns one compositor connection and the output registry built
// from it. It is used from a single goroutine.
type Client struct {
	conn     *wayland.Conn
	log      logger.Logger
	registry wayland.ObjectID
	objects  map[wayland.ObjectID]object
	done     map[wayland.ObjectID]bool
	outputs  *output.Registry
	sendErr  error
}

// Connect dials the compositor from the environment and performs the
// initial registry walk.
func Connect(log logger.Logger) (*Client, error) {
	conn, err := wayland.Dial()
	if err != nil {
		return nil, err
	}

	c := New(conn, log)
	if err := c.Init(); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

// New wraps conn and requests the registry. Call Init, or Flush and
// Dispatch, to start receiving globals.
func New(conn *wayland.Conn, log logger.Logger) *Client {
	c := &Client{
		conn:    conn,
		log:     log,
		objects: make(map[wayland.ObjectID]object),
		done:    make(map[wayland.ObjectID]bool),
	}
	c.outputs = output.NewRegistry(c, log)

	c.registry = conn.NewID()
	c.objects[c.registry] = object{kind: kindRegistry, version: 1}
	c.send(wayland.NewRequest(wayland.DisplayID, wayland.DisplayGetRegistry).PutObject(c.registry))

	return c
}

// Init performs two roundtrips: the first delivers the globals (and binds
// them), the second delivers the output names and gamma sizes the binds
// produce.
func (c *Client) Init() error {
	for i := 0; i < 2; i++ {
		if err := c.Roundtrip(); err != nil {
			return err
		}
	}

	if !c.outputs.HasManager() {
		missing := errors.New().WithData(errors.ErrMissingGlobal, output.InterfaceGammaManager)
		c.log.Warn().Err(missing).Msg("Gamma changes will have no effect")
	}
	c.log.Info().Int("outputs", len(c.outputs.Sessions())).Msg("Compositor session ready")

	return nil
}

// Roundtrip blocks until the compositor has processed every request sent
// so far, dispatching events as they arrive.
func (c *Client) Roundtrip() error {
	cb := c.conn.NewID()
	c.objects[cb] = object{kind: kindCallback}
	c.send(wayland.NewRequest(wayland.DisplayID, wayland.DisplaySync).PutObject(cb))
	if err := c.Flush(); err != nil {
		return err
	}

	for !c.done[cb] {
		if err := c.conn.WaitReadable(); err != nil {
			return err
		}
		if err := c.Dispatch(); err != nil {
			return err
		}
	}
	delete(c.done, cb)

	return nil
}

// Dispatch reads whatever the compositor has sent and processes it. It
// never blocks; having nothing to read is not an error.
func (c *Client) Dispatch() error {
	// Messages read before a hangup are handled first, so a protocol error
	// the compositor sent on its way out is the one reported.
	msgs, readErr := c.conn.ReadMessages()
	for _, msg := range msgs {
		if err := c.handle(msg); err != nil {
			return err
		}
	}

	return readErr
}

// Flush writes queued requests to the compositor.
func (c *Client) Flush() error {
	if c.sendErr != nil {
		err := c.sendErr
		c.sendErr = nil
		return err
	}

	return c.conn.Flush()
}

// Fd returns the connection descriptor for readiness polling.
func (c *Client) Fd() int {
	return c.conn.Fd()
}

// Apply sets temperature and gamma on the outputs selected by filter.
func (c *Client) Apply(filter []string, kelvin uint32, gamma float32) ([]string, error) {
	return c.outputs.Apply(filter, kelvin, gamma)
}

// Query reports the state of the outputs selected by filter.
func (c *Client) Query(filter []string) map[string]output.State {
	return c.outputs.Query(filter)
}

// Close destroys all gamma controls, so the compositor restores the
// original ramps, and closes the connection.
func (c *Client) Close() error {
	c.outputs.Close()
	if err := c.Flush(); err != nil {
		c.log.Debug().Err(err).Msg("Failed to flush release requests")
	}

	return c.conn.Close()
}

func (c *Client) handle(msg wayland.Message) error {
	errFactory := errors.New()
	r := msg.Reader()

	if msg.Sender == wayland.DisplayID {
		return c.handleDisplay(msg.Opcode, r)
	}

	obj, ok := c.objects[msg.Sender]
	if !ok {
		c.log.Debug().Uint32("object", uint32(msg.Sender)).Uint16("opcode", msg.Opcode).Msg("Event for unknown object")
		return nil
	}

	switch obj.kind {
	case kindRegistry:
		switch msg.Opcode {
		case wayland.RegistryEventGlobal:
			ev := output.Global{Name: r.Uint(), Interface: r.String(), Version: r.Uint()}
			if r.Err() == nil {
				c.outputs.Handle(ev)
			}
		case wayland.RegistryEventGlobalRemove:
			ev := output.GlobalRemove{Name: r.Uint()}
			if r.Err() == nil {
				c.outputs.Handle(ev)
			}
		}

	case kindCallback:
		if msg.Opcode == wayland.CallbackEventDone {
			c.done[msg.Sender] = true
		}

	case kindOutput:
		if msg.Opcode == wayland.OutputEventName {
			ev := output.OutputName{Output: output.Handle(msg.Sender), Name: r.String()}
			if r.Err() == nil {
				c.outputs.Handle(ev)
			}
		}

	case kindGammaControl:
		switch msg.Opcode {
		case wayland.GammaControlEventGammaSize:
			ev := output.GammaSize{Control: output.Handle(msg.Sender), Size: r.Uint()}
			if r.Err() == nil {
				c.outputs.Handle(ev)
			}
		case wayland.GammaControlEventFailed:
			c.outputs.Handle(output.GammaFailed{Control: output.Handle(msg.Sender)})
		}
	}

	if err := r.Err(); err != nil {
		return errFactory.WithData(errors.ErrCompositorProtocol, struct {
			Object uint32
			Opcode uint16
			Error  string
		}{
			Object: uint32(msg.Sender),
			Opcode: msg.Opcode,
			Error:  err.Error(),
		})
	}

	return nil
}

func (c *Client) handleDisplay(opcode uint16, r *wayland.ArgReader) error {
	errFactory := errors.New()

	switch opcode {
	case wayland.DisplayEventError:
		object, code, message := r.Object(), r.Uint(), r.String()
		return errFactory.WithData(errors.ErrCompositorProtocol, struct {
			Object  uint32
			Code    uint32
			Message string
		}{
			Object:  uint32(object),
			Code:    code,
			Message: message,
		})

	case wayland.DisplayEventDeleteID:
		id := wayland.ObjectID(r.Uint())
		if r.Err() != nil {
			return errFactory.Wrap(errors.ErrCompositorProtocol, r.Err())
		}
		delete(c.objects, id)
	}

	return nil
}

// send queues a request. The first failure is kept and reported by the
// next Flush, because the Protocol methods have no error path.
func (c *Client) send(req *wayland.Request) error {
	err := c.conn.Send(req)
	if err != nil && c.sendErr == nil {
		c.sendErr = err
	}

	return err
}

func (c *Client) BindOutput(name, version uint32) output.Handle {
	version = min(version, outputVersion)
	id := c.conn.NewID()
	c.objects[id] = object{kind: kindOutput, version: version}
	c.send(wayland.NewRequest(c.registry, wayland.RegistryBind).
		PutUint(name).
		PutString(wayland.InterfaceOutput).
		PutUint(version).
		PutObject(id))

	return output.Handle(id)
}

func (c *Client) BindManager(name, version uint32) output.Handle {
	version = min(version, managerVersion)
	id := c.conn.NewID()
	c.objects[id] = object{kind: kindGammaManager, version: version}
	c.send(wayland.NewRequest(c.registry, wayland.RegistryBind).
		PutUint(name).
		PutString(wayland.InterfaceGammaControlManager).
		PutUint(version).
		PutObject(id))

	return output.Handle(id)
}

func (c *Client) GetGammaControl(manager, out output.Handle) output.Handle {
	id := c.conn.NewID()
	c.objects[id] = object{kind: kindGammaControl, version: managerVersion}
	c.send(wayland.NewRequest(wayland.ObjectID(manager), wayland.GammaManagerGetGammaControl).
		PutObject(id).
		PutObject(wayland.ObjectID(out)))

	return output.Handle(id)
}

func (c *Client) SetGamma(control output.Handle, f *os.File) error {
	return c.send(wayland.NewRequest(wayland.ObjectID(control), wayland.GammaControlSetGamma).PutFile(f))
}

// Destroyed objects stay in the object table until the compositor
// acknowledges them with delete_id, so in-flight events still decode.

func (c *Client) DestroyGammaControl(control output.Handle) {
	c.send(wayland.NewRequest(wayland.ObjectID(control), wayland.GammaControlDestroy))
}

func (c *Client) ReleaseOutput(out output.Handle) {
	obj, ok := c.objects[wayland.ObjectID(out)]
	if !ok || obj.version < wayland.OutputReleaseSince {
		return
	}
	c.send(wayland.NewRequest(wayland.ObjectID(out), wayland.OutputRelease))
}

func (c *Client) DestroyManager(manager output.Handle) {
	c.send(wayland.NewRequest(wayland.ObjectID(manager), wayland.GammaManagerDestroy))
}
