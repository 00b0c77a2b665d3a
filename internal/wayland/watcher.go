package wayland

import (
	"sync"

	"codeberg.org/mutker/waysn/internal/errors"
	"golang.org/x/sys/unix"
)

// Watcher reports when a descriptor becomes readable. It never reads the
// descriptor itself: after each signal on Ready it waits for Rearm, so the
// owner of the connection can drain the socket before polling resumes.
type Watcher struct {
	fd    int
	wakeR int
	wakeW int
	ready chan struct{}
	rearm chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	err   error
}

// NewWatcher starts polling fd.
func NewWatcher(fd int) (*Watcher, error) {
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.New().Wrap(errors.ErrInitFailed, err)
	}

	w := &Watcher{
		fd:    fd,
		wakeR: pipe[0],
		wakeW: pipe[1],
		ready: make(chan struct{}),
		rearm: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run()

	return w, nil
}

// Ready delivers one value each time the descriptor becomes readable.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Rearm resumes polling after a value from Ready has been handled.
func (w *Watcher) Rearm() {
	select {
	case w.rearm <- struct{}{}:
	default:
	}
}

// Err returns the poll error that stopped the watcher, if any.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// Close stops the polling goroutine and waits for it to exit.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		close(w.stop)
		unix.Write(w.wakeW, []byte{0})
		<-w.done
		unix.Close(w.wakeR)
		unix.Close(w.wakeW)
	})

	return nil
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		fds := []unix.PollFd{
			{Fd: int32(w.fd), Events: unix.POLLIN},
			{Fd: int32(w.wakeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			w.mu.Lock()
			w.err = errors.New().Wrap(errors.ErrCompositorIO, err)
			w.mu.Unlock()
			// Let the owner discover the failure through its next read.
			w.signal()
			return
		}

		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) == 0 {
			continue
		}

		if !w.signal() {
			return
		}
		select {
		case <-w.rearm:
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) signal() bool {
	select {
	case w.ready <- struct{}{}:
		return true
	case <-w.stop:
		return false
	}
}
