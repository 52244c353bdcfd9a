// Package sigchan turns the handful of signals tinit cares about
// (SIGCHLD for reaping, SIGTERM/SIGUSR1/SIGUSR2/SIGPWR for shutdown)
// into events on the single-threaded event loop, the Go counterpart of
// sigchan.c's signalfd-based channel. Go has no portable way to read a
// signalfd directly into epoll_wait the way the original does, so this
// package uses the self-pipe trick instead: a dedicated os/signal-fed
// goroutine (the one deliberate background goroutine in the whole
// supervisor, mirrored on Tuxdude-pico's own signalHandler goroutine)
// wakes a pipe that IS registered with the loop, keeping every bit of
// actual state mutation on the loop's own goroutine.
package sigchan

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tuxdude/zzzlogi"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/eventloop"
	"github.com/tuxdude/tinit/internal/service"
)

// ErrShutdownRequested is returned from Dispatch when a shutdown signal
// has just been recorded in RUNNING mode, or when the outstanding
// service count has drained to zero in DRAINING mode. It is the Go
// counterpart of sigchan.c's -ESHUTDOWN.
var ErrShutdownRequested = errors.New("sigchan: shutdown requested")

// mode mirrors the two dispatch tables sigchan.c swaps between:
// tinit_sigchan_dispatch_started (RUNNING) and
// tinit_sigchan_dispatch_stopping (DRAINING).
type mode int

const (
	modeIdle mode = iota
	modeRunning
	modeDraining
)

// watchedSignals is the fixed signal set sigchan_open arms on the
// signalfd in the original: child reaping plus every signal that can
// trigger a shutdown.
var watchedSignals = []os.Signal{
	unix.SIGCHLD,
	unix.SIGTERM,
	unix.SIGUSR1,
	unix.SIGUSR2,
	unix.SIGPWR,
}

// Channel is the control channel: it owns child reaping and records the
// first shutdown-triggering signal received, the Go counterpart of
// struct tinit_sigchan.
type Channel struct {
	log     zzzlogi.Logger
	manager *service.Manager
	loop    *eventloop.Loop

	sigCh   chan os.Signal
	pending chan os.Signal
	pipeR   int
	pipeW   int
	mode    mode
	shutSg  unix.Signal

	remaining int
}

var _ eventloop.Worker = (*Channel)(nil)

// New builds a Channel. manager.SetStoppedHook is wired to this Channel
// so DRAINING mode's remaining count tracks every service's Stopped
// transition automatically.
func New(log zzzlogi.Logger, manager *service.Manager, loop *eventloop.Loop) *Channel {
	c := &Channel{log: log, manager: manager, loop: loop}
	manager.SetStoppedHook(c.onServiceStopped)
	return c
}

// EnterRunning opens the self-pipe, starts the signal relay goroutine
// and registers the pipe's read end with the event loop. Called once, by
// the TargetController, right before the boot target is started.
func (c *Channel) EnterRunning() error {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return err
	}
	c.pipeR, c.pipeW = fds[0], fds[1]

	c.sigCh = make(chan os.Signal, 32)
	c.pending = make(chan os.Signal, 32)
	signal.Notify(c.sigCh, watchedSignals...)
	go c.relay()

	c.mode = modeRunning
	return c.loop.Register(c.pipeR, unix.EPOLLIN, c)
}

// relay forwards every signal delivery into pending before waking the
// event loop's pipe, so the signal value travels with the wake byte
// instead of racing Dispatch to consume the same os/signal channel: the
// pipe write only happens after the value is already sitting in
// pending, so Dispatch is guaranteed to find it there once woken. It is
// the only goroutine in the supervisor that runs concurrently with the
// event loop; it does no state mutation of its own.
func (c *Channel) relay() {
	for sig := range c.sigCh {
		c.pending <- sig
		_, _ = unix.Write(c.pipeW, []byte{1})
	}
}

// EnterDraining switches to DRAINING mode with count services left to
// watch stop, the Go counterpart of tinit_sigchan_stop. A count of zero
// (nothing was active to begin with) completes the drain immediately.
func (c *Channel) EnterDraining(count int) {
	c.mode = modeDraining
	c.remaining = count
	if c.remaining <= 0 {
		c.wake()
	}
}

// ShutdownSignal returns the first shutdown-triggering signal recorded,
// used by cmd/tinit to choose between reboot, halt and poweroff.
func (c *Channel) ShutdownSignal() unix.Signal {
	return c.shutSg
}

// onServiceStopped is the Manager.StoppedHook: it decrements the
// DRAINING countdown and wakes the loop once every watched service has
// stopped.
func (c *Channel) onServiceStopped() {
	if c.mode != modeDraining {
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining <= 0 {
		c.wake()
	}
}

// wake nudges the self-pipe so Dispatch runs even with no pending OS
// signal, used when a drain completes purely from state machine
// transitions.
func (c *Channel) wake() {
	_, _ = unix.Write(c.pipeW, []byte{1})
}

// Dispatch drains the self-pipe and every pending signal, reaping on
// SIGCHLD and recording (or reacting to) a shutdown signal. It is called
// by the event loop whenever the self-pipe's read end becomes readable.
func (c *Channel) Dispatch(events uint32) error {
	c.drainPipe()

	for {
		select {
		case sig := <-c.pending:
			if err := c.handleSignal(sig); err != nil {
				return err
			}
		default:
			if c.mode == modeDraining && c.remaining <= 0 {
				return ErrShutdownRequested
			}
			return nil
		}
	}
}

func (c *Channel) drainPipe() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(c.pipeR, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

func (c *Channel) handleSignal(sig os.Signal) error {
	raw, ok := sig.(syscall.Signal)
	if !ok {
		return nil
	}
	s := unix.Signal(raw)

	if s == unix.SIGCHLD {
		c.reap()
		return nil
	}

	if c.shutSg == 0 {
		c.shutSg = s
		c.log.Infof("sigchan: shutdown requested by signal %d", s)
	}

	if c.mode == modeRunning {
		return ErrShutdownRequested
	}
	return nil
}

// reap is tinit_sigchan_handle_sigchld: drain every exited child with a
// non-blocking waitid/wait4 loop and dispatch its exit status to the
// owning service.
func (c *Channel) reap() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		status := -1
		switch {
		case ws.Exited():
			status = ws.ExitStatus()
		case ws.Signaled():
			status = -int(ws.Signal())
		}

		if err := c.manager.DispatchExit(pid, status); err != nil {
			c.log.Debugf("sigchan: reaped untracked pid %d: %v", pid, err)
		}
	}
}
