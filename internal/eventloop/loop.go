// Package eventloop implements the single-threaded, level-triggered
// readiness multiplexer every other component runs under: one
// goroutine, one epoll instance, one timer heap, exactly as svc.c,
// sigchan.c and srv.c all assume a single thread of execution and take
// no locks. The one deliberate exception is the self-pipe fed by
// internal/sigchan's os/signal relay goroutine, whose read end is
// itself just another fd registered with this loop.
package eventloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Worker reacts to readiness on one registered file descriptor.
// Dispatch receives the raw epoll event mask (EPOLLIN, EPOLLOUT, ...).
type Worker interface {
	Dispatch(events uint32) error
}

// Loop is the event loop: epoll_wait for fd readiness, a timer heap for
// every armed Service timeout, dispatched one at a time
// on a single goroutine.
type Loop struct {
	epfd      int
	Scheduler *Scheduler
	workers   map[int]Worker
	stop      bool
}

// New creates an epoll instance and an empty Scheduler.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	return &Loop{
		epfd:      epfd,
		Scheduler: NewScheduler(),
		workers:   make(map[int]Worker),
	}, nil
}

// Close releases the epoll instance.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

// Register arms fd for events (a bitwise-or of unix.EPOLLIN etc.) and
// routes its readiness to w.
func (l *Loop) Register(fd int, events uint32, w Worker) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl(ADD, %d): %w", fd, err)
	}
	l.workers[fd] = w
	return nil
}

// Modify updates the event mask fd is registered for, used by the
// control server to arm EPOLLOUT only while its outbound queue is
// non-empty.
func (l *Loop) Modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the epoll set.
func (l *Loop) Unregister(fd int) error {
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl(DEL, %d): %w", fd, err)
	}
	delete(l.workers, fd)
	return nil
}

// Stop asks Run to return after the current iteration.
func (l *Loop) Stop() {
	l.stop = true
}

// Run blocks, dispatching fd readiness and timer expiry, until Stop is
// called or a worker returns an error.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, 32)

	for !l.stop {
		timeout := l.Scheduler.NextTimeoutMillis(time.Now())

		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("eventloop: epoll_wait: %w", err)
		}

		l.Scheduler.RunExpired(time.Now())

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			w, ok := l.workers[fd]
			if !ok {
				continue
			}
			if err := w.Dispatch(events[i].Events); err != nil {
				return err
			}
		}
	}

	return nil
}
