package compositor

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/logger"
	"codeberg.org/mutker/waysn/internal/output"
	"codeberg.org/mutker/waysn/internal/wayland"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeCompositor is the server end of a socketpair. Events are encoded with
// the request encoder since both directions share one wire format.
type fakeCompositor struct {
	t   *testing.T
	fd  int
	in  []byte
	fds []int
}

func newTestClient(t *testing.T) (*Client, *fakeCompositor) {
	t.Helper()
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetsockoptTimeval(pair[1], unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{Sec: 5}))

	conn, err := wayland.NewConn(pair[0])
	require.NoError(t, err)

	fake := &fakeCompositor{t: t, fd: pair[1]}
	c := New(conn, logger.New("compositor-test"))
	t.Cleanup(func() {
		conn.Close()
		unix.Close(fake.fd)
		for _, fd := range fake.fds {
			unix.Close(fd)
		}
	})

	return c, fake
}

func (f *fakeCompositor) send(req *wayland.Request) {
	f.t.Helper()
	data, err := req.Encode()
	require.NoError(f.t, err)
	_, err = unix.Write(f.fd, data)
	require.NoError(f.t, err)
}

func (f *fakeCompositor) global(name uint32, iface string, version uint32) {
	f.send(wayland.NewRequest(2, wayland.RegistryEventGlobal).PutUint(name).PutString(iface).PutUint(version))
}

func (f *fakeCompositor) done(callback wayland.ObjectID) {
	f.send(wayland.NewRequest(callback, wayland.CallbackEventDone).PutUint(0))
	f.send(wayland.NewRequest(wayland.DisplayID, wayland.DisplayEventDeleteID).PutUint(uint32(callback)))
}

// expect reads until n complete requests have arrived.
func (f *fakeCompositor) expect(n int) []wayland.Message {
	f.t.Helper()
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4*28))

	for {
		msgs, _, err := wayland.ParseMessages(f.in)
		require.NoError(f.t, err)
		if len(msgs) >= n {
			require.Len(f.t, msgs, n)
			f.in = nil
			return msgs
		}

		nr, oobn, _, _, err := unix.Recvmsg(f.fd, buf, oob, 0)
		require.NoError(f.t, err)
		require.NotZero(f.t, nr, "client hung up")
		f.in = append(f.in, buf[:nr]...)

		if oobn > 0 {
			cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
			require.NoError(f.t, err)
			for i := range cmsgs {
				fds, err := unix.ParseUnixRights(&cmsgs[i])
				require.NoError(f.t, err)
				f.fds = append(f.fds, fds...)
			}
		}
	}
}

func assertRequest(t *testing.T, msg wayland.Message, sender wayland.ObjectID, opcode uint16) {
	t.Helper()
	assert.Equal(t, sender, msg.Sender)
	assert.Equal(t, opcode, msg.Opcode)
}

// handshake drives Init against the fake: one wl_output (global 1) and the
// gamma manager (global 2).
func handshake(t *testing.T, c *Client, fake *fakeCompositor, name string, rampSize uint32) {
	t.Helper()

	initErr := make(chan error, 1)
	go func() { initErr <- c.Init() }()

	// get_registry(2), sync(3)
	msgs := fake.expect(2)
	assertRequest(t, msgs[0], wayland.DisplayID, wayland.DisplayGetRegistry)
	assertRequest(t, msgs[1], wayland.DisplayID, wayland.DisplaySync)

	fake.global(1, wayland.InterfaceOutput, 4)
	fake.global(2, wayland.InterfaceGammaControlManager, 1)
	fake.done(3)

	// bind output(4), bind manager(5), get_gamma_control(6), sync(7)
	msgs = fake.expect(4)
	assertRequest(t, msgs[0], 2, wayland.RegistryBind)
	r := msgs[0].Reader()
	assert.Equal(t, uint32(1), r.Uint())
	assert.Equal(t, wayland.InterfaceOutput, r.String())
	assert.Equal(t, uint32(4), r.Uint())
	assert.Equal(t, wayland.ObjectID(4), r.Object())

	assertRequest(t, msgs[1], 2, wayland.RegistryBind)
	r = msgs[1].Reader()
	assert.Equal(t, uint32(2), r.Uint())
	assert.Equal(t, wayland.InterfaceGammaControlManager, r.String())
	assert.Equal(t, uint32(1), r.Uint())
	assert.Equal(t, wayland.ObjectID(5), r.Object())

	assertRequest(t, msgs[2], 5, wayland.GammaManagerGetGammaControl)
	r = msgs[2].Reader()
	assert.Equal(t, wayland.ObjectID(6), r.Object())
	assert.Equal(t, wayland.ObjectID(4), r.Object())

	assertRequest(t, msgs[3], wayland.DisplayID, wayland.DisplaySync)

	fake.send(wayland.NewRequest(4, wayland.OutputEventName).PutString(name))
	fake.send(wayland.NewRequest(6, wayland.GammaControlEventGammaSize).PutUint(rampSize))
	fake.done(7)

	require.NoError(t, <-initErr)
}

func TestInitNegotiatesGammaControl(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	assert.True(t, c.outputs.HasManager())
	sessions := c.outputs.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "DP-1", sessions[0].Name)
	assert.Equal(t, uint32(4), sessions[0].RampSize)
	assert.True(t, sessions[0].Ready())

	assert.Equal(t, map[string]output.State{
		"DP-1": {Kelvin: output.DefaultKelvin, Gamma: output.DefaultGamma},
	}, c.Query(nil))
}

func TestInitWithoutGammaManager(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "debug", true)
	t.Cleanup(func() { logger.Init("info", false) })

	c, fake := newTestClient(t)

	initErr := make(chan error, 1)
	go func() { initErr <- c.Init() }()

	fake.expect(2)
	fake.global(1, wayland.InterfaceOutput, 4)
	fake.done(3)

	// bind output(4), sync(5)
	msgs := fake.expect(2)
	assertRequest(t, msgs[0], 2, wayland.RegistryBind)
	assertRequest(t, msgs[1], wayland.DisplayID, wayland.DisplaySync)
	fake.send(wayland.NewRequest(4, wayland.OutputEventName).PutString("DP-1"))
	fake.done(5)

	require.NoError(t, <-initErr)
	assert.False(t, c.outputs.HasManager())
	assert.Len(t, c.outputs.Sessions(), 1)
	assert.Contains(t, buf.String(), errors.GetErrorMessage(errors.ErrMissingGlobal))
	assert.Contains(t, buf.String(), output.InterfaceGammaManager)
}

func TestApplySendsRampDescriptor(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	updated, err := c.Apply(nil, 6600, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []string{"DP-1"}, updated)
	require.NoError(t, c.Flush())

	msgs := fake.expect(1)
	assertRequest(t, msgs[0], 6, wayland.GammaControlSetGamma)
	require.Len(t, fake.fds, 1)

	ramp := os.NewFile(uintptr(fake.fds[0]), "ramp")
	fake.fds = nil
	defer ramp.Close()

	data := make([]byte, 3*4*2)
	_, err = ramp.ReadAt(data, 0)
	require.NoError(t, err)

	// Neutral white: each channel climbs to 0xffff.
	for ch := 0; ch < 3; ch++ {
		seg := data[ch*8 : ch*8+8]
		assert.Equal(t, uint16(0), binary.NativeEndian.Uint16(seg[0:]))
		assert.Equal(t, uint16(0xffff), binary.NativeEndian.Uint16(seg[6:]))
	}
}

func TestGammaFailedDestroysControl(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	fake.send(wayland.NewRequest(6, wayland.GammaControlEventFailed))
	require.NoError(t, c.Dispatch())
	require.NoError(t, c.Flush())

	msgs := fake.expect(1)
	assertRequest(t, msgs[0], 6, wayland.GammaControlDestroy)

	updated, err := c.Apply(nil, 4000, 1.0)
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestGlobalRemoveReleasesOutput(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	fake.send(wayland.NewRequest(2, wayland.RegistryEventGlobalRemove).PutUint(1))
	require.NoError(t, c.Dispatch())
	require.NoError(t, c.Flush())

	msgs := fake.expect(2)
	assertRequest(t, msgs[0], 6, wayland.GammaControlDestroy)
	assertRequest(t, msgs[1], 4, wayland.OutputRelease)
	assert.Empty(t, c.Query(nil))
}

func TestEventsForDeletedObjectsAreIgnored(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	fake.send(wayland.NewRequest(wayland.DisplayID, wayland.DisplayEventDeleteID).PutUint(6))
	fake.send(wayland.NewRequest(6, wayland.GammaControlEventGammaSize).PutUint(1024))
	require.NoError(t, c.Dispatch())

	assert.Equal(t, uint32(4), c.outputs.Sessions()[0].RampSize)
}

func TestDisplayErrorIsFatal(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	fake.send(wayland.NewRequest(wayland.DisplayID, wayland.DisplayEventError).
		PutObject(6).PutUint(1).PutString("invalid gamma tables"))

	err := c.Dispatch()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCompositorProtocol))
}

func TestDisplayErrorBeforeHangupWins(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	fake.send(wayland.NewRequest(wayland.DisplayID, wayland.DisplayEventError).
		PutObject(6).PutUint(1).PutString("invalid gamma tables"))
	require.NoError(t, unix.Shutdown(fake.fd, unix.SHUT_WR))

	err := c.Dispatch()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCompositorProtocol))
	assert.False(t, errors.HasCode(err, errors.ErrCompositorDisconnected))
	assert.Contains(t, err.Error(), "invalid gamma tables")
}

func TestDispatchReportsDisconnect(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	require.NoError(t, unix.Shutdown(fake.fd, unix.SHUT_WR))

	err := c.Dispatch()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCompositorDisconnected))
}

func TestCloseDestroysControls(t *testing.T) {
	c, fake := newTestClient(t)
	handshake(t, c, fake, "DP-1", 4)

	c.outputs.Close()
	require.NoError(t, c.Flush())

	msgs := fake.expect(3)
	assertRequest(t, msgs[0], 6, wayland.GammaControlDestroy)
	assertRequest(t, msgs[1], 4, wayland.OutputRelease)
	assertRequest(t, msgs[2], 5, wayland.GammaManagerDestroy)
}
