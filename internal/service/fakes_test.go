package service_test

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/config"
	"github.com/tuxdude/tinit/internal/repo"
	"github.com/tuxdude/tinit/internal/service"
)

// nullLogger discards everything, the test analogue of logging.NewStderr
// at a threshold below Emerg.
type nullLogger struct{}

func (nullLogger) Debugf(string, ...interface{}) {}
func (nullLogger) Infof(string, ...interface{})  {}
func (nullLogger) Warnf(string, ...interface{})  {}
func (nullLogger) Errorf(string, ...interface{}) {}
func (nullLogger) Fatalf(string, ...interface{}) {}

// fakeLauncher hands out deterministic incrementing pids instead of
// forking real processes, and records every signal sent.
type fakeLauncher struct {
	nextPID    int
	spawnErr   error
	signaled   []fakeSignal
	signalErrs map[int]error
}

type fakeSignal struct {
	pid int
	sig unix.Signal
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 100, signalErrs: map[int]error{}}
}

func (f *fakeLauncher) Spawn(argv []string, _ *config.Service) (int, error) {
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	f.nextPID++
	return f.nextPID, nil
}

func (f *fakeLauncher) Signal(pid int, sig unix.Signal) error {
	f.signaled = append(f.signaled, fakeSignal{pid: pid, sig: sig})
	if pid <= 0 {
		return service.ErrNoChild
	}
	if err, ok := f.signalErrs[pid]; ok {
		return err
	}
	return nil
}

// fakeTimer stands in for eventloop.TimerHandle: Arm/Disarm just record
// state, and the test fires expiry explicitly by calling Fire.
type fakeTimer struct {
	armed    bool
	seconds  uint
	callback func()
}

func newFakeTimer(callback func()) *fakeTimer {
	return &fakeTimer{callback: callback}
}

func (t *fakeTimer) Arm(seconds uint) {
	t.armed = true
	t.seconds = seconds
}

func (t *fakeTimer) Disarm() {
	t.armed = false
}

func (t *fakeTimer) Fire() {
	t.armed = false
	t.callback()
}

// fakeTimerFactory hands out fakeTimers and remembers them in creation
// order: NewManager creates one per service in Repository insertion
// order, so timers[i] belongs to the service with Handle i.
type fakeTimerFactory struct {
	timers []*fakeTimer
}

func (f *fakeTimerFactory) NewTimer(callback func()) service.Timer {
	t := newFakeTimer(callback)
	f.timers = append(f.timers, t)
	return t
}

func buildRepo(descs ...*config.Service) *repo.Repository {
	r, err := repo.New(descs)
	if err != nil {
		panic(fmt.Sprintf("buildRepo: %v", err))
	}
	if errs := r.Wire(); len(errs) != 0 {
		panic(fmt.Sprintf("buildRepo: wire: %v", errs))
	}
	return r
}
