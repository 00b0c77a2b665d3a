// Package daemon runs the event loop that owns the compositor session.
package daemon

import (
	"context"
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/history"
	"codeberg.org/mutker/waysn/internal/ipc"
	"codeberg.org/mutker/waysn/internal/logger"
	"codeberg.org/mutker/waysn/internal/output"
	"codeberg.org/mutker/waysn/internal/server"
)

const historyTimeout = time.Second

// Backend is the compositor session as seen by the loop.
type Backend interface {
	Apply(filter []string, kelvin uint32, gamma float32) ([]string, error)
	Query(filter []string) map[string]output.State
	Dispatch() error
	Flush() error
}

// Readiness signals that the backend has data to dispatch.
type Readiness interface {
	Ready() <-chan struct{}
	Rearm()
	Err() error
}

type Daemon struct {
	backend  Backend
	ready    Readiness
	requests <-chan *server.Request
	history  history.Recorder
	log      logger.Logger
}

func New(backend Backend, ready Readiness, requests <-chan *server.Request, rec history.Recorder, log logger.Logger) *Daemon {
	return &Daemon{
		backend:  backend,
		ready:    ready,
		requests: requests,
		history:  rec,
		log:      log,
	}
}

// Run serves commands and compositor events until ctx is cancelled, a
// Kill command is handled, or the compositor connection fails. Only the
// last case returns an error.
func (d *Daemon) Run(ctx context.Context) error {
	errFactory := errors.New()

	d.log.Info().Msg("Event loop started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Received shutdown signal")
			return nil

		case req := <-d.requests:
			resp, stop := d.execute(ctx, req)
			req.Reply(resp)

			if err := d.backend.Flush(); err != nil {
				return errFactory.Wrap(errors.ErrMainLoop, err)
			}
			if stop {
				d.log.Info().Str("conn", req.ID).Msg("Kill requested")
				return nil
			}

		case <-d.ready.Ready():
			if err := d.ready.Err(); err != nil {
				return errFactory.Wrap(errors.ErrMainLoop, err)
			}
			if err := d.backend.Dispatch(); err != nil {
				return errFactory.Wrap(errors.ErrMainLoop, err)
			}
			if err := d.backend.Flush(); err != nil {
				return errFactory.Wrap(errors.ErrMainLoop, err)
			}
			d.ready.Rearm()
		}
	}
}

func (d *Daemon) execute(ctx context.Context, req *server.Request) (ipc.Response, bool) {
	log := d.log.With("conn", req.ID)

	switch cmd := req.Command.(type) {
	case ipc.SetTemperature:
		return d.setTemperature(ctx, log, cmd), false

	case ipc.GetTemperature:
		states := d.backend.Query(cmd.Outputs)
		resp := ipc.Temperature{Temperatures: make(map[string]ipc.OutputState, len(states))}
		for name, st := range states {
			resp.Temperatures[name] = ipc.OutputState{Kelvin: st.Kelvin, Gamma: st.Gamma}
		}
		return resp, false

	case ipc.Kill:
		return ipc.Ok{}, true

	default:
		return ipc.Err{Message: fmt.Sprintf("unsupported command %q", req.Command.Kind())}, false
	}
}

func (d *Daemon) setTemperature(ctx context.Context, log logger.Logger, cmd ipc.SetTemperature) ipc.Response {
	if cmd.Kelvin == 0 {
		return ipc.Err{Message: "temperature must be positive"}
	}
	if g := float64(cmd.Gamma); g <= 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return ipc.Err{Message: fmt.Sprintf("invalid gamma %v", cmd.Gamma)}
	}

	updated, err := d.backend.Apply(cmd.Outputs, cmd.Kelvin, cmd.Gamma)
	d.record(ctx, log, updated, cmd)
	if err != nil {
		log.ErrorWithCode(errors.New().Wrap(errors.ErrApplyRamp, err)).
			Strs("updated", updated).
			Msg("Failed to apply gamma ramp")
		return ipc.Err{Message: err.Error()}
	}

	log.Info().
		Uint32("kelvin", cmd.Kelvin).
		Float32("gamma", cmd.Gamma).
		Strs("outputs", updated).
		Msg("Temperature applied")

	return ipc.Ok{}
}

// record logs the outputs that were actually updated, including those
// updated before a failure.
func (d *Daemon) record(ctx context.Context, log logger.Logger, updated []string, cmd ipc.SetTemperature) {
	if d.history == nil || len(updated) == 0 {
		return
	}

	snapshot := &history.Snapshot{Timestamp: time.Now()}
	for _, name := range updated {
		snapshot.Entries = append(snapshot.Entries, history.Entry{
			Output: name,
			Kelvin: cmd.Kelvin,
			Gamma:  cmd.Gamma,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	if err := d.history.Record(ctx, snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to record history")
	}
}
