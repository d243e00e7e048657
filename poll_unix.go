//go:build linux || darwin || freebsd

package pcap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// errWoken the wait ended because the waker fired, not because fd is readable
var errWoken = errors.New("woken")

// waker a self-pipe that interrupts poll(2), fired when the capture context is
// cancelled or the handle is closed.
type waker struct {
	rfd, wfd int
	stop     func() bool
}

func newWaker(ctx context.Context) (*waker, error) {
	var pipefd [2]int
	if err := unix.Pipe(pipefd[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	w := &waker{rfd: pipefd[0], wfd: pipefd[1]}
	// Make pipe non-blocking
	_ = unix.SetNonblock(w.rfd, true)
	_ = unix.SetNonblock(w.wfd, true)
	w.stop = context.AfterFunc(ctx, w.wake)
	return w, nil
}

// wake write any value to wake poll. The pipe is never drained, so every later
// wait returns at once as well.
func (w *waker) wake() {
	_, _ = unix.Write(w.wfd, []byte{1})
}

func (w *waker) close() {
	w.stop()
	_ = unix.Close(w.rfd)
	_ = unix.Close(w.wfd)
}

// wait block until fd is readable. It returns ErrReadTimeout when timeout passes
// first, and errWoken when the waker fired.
func (w *waker) wait(fd int, timeout time.Duration) error {
	// pollfd to handle events, like idle timeout or context message
	pfd := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(w.rfd), Events: unix.POLLIN},
	}
	ms := pollTimeout(timeout)
	for {
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		switch {
		case pfd[1].Revents&unix.POLLIN != 0:
			return errWoken
		case n == 0:
			return ErrReadTimeout
		case pfd[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0:
			return fmt.Errorf("poll: capture descriptor error, revents %#x", pfd[0].Revents)
		}
		return nil
	}
}

// pollTimeout converts a read timeout to poll(2) milliseconds: -1 blocks, and
// a positive timeout never rounds down to 0, which would not wait at all.
func pollTimeout(timeout time.Duration) int {
	switch {
	case timeout <= 0:
		return -1
	case timeout < time.Millisecond:
		return 1
	default:
		return int(timeout.Milliseconds())
	}
}
