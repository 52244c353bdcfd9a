package sigchan_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/config"
	"github.com/tuxdude/tinit/internal/eventloop"
	"github.com/tuxdude/tinit/internal/repo"
	"github.com/tuxdude/tinit/internal/service"
	"github.com/tuxdude/tinit/internal/sigchan"
)

type nullLogger struct{}

func (nullLogger) Debugf(string, ...interface{}) {}
func (nullLogger) Infof(string, ...interface{})  {}
func (nullLogger) Warnf(string, ...interface{})  {}
func (nullLogger) Errorf(string, ...interface{}) {}
func (nullLogger) Fatalf(string, ...interface{}) {}

type fakeLauncher struct{ nextPID int }

func (l *fakeLauncher) Spawn(argv []string, _ *config.Service) (int, error) {
	l.nextPID++
	return l.nextPID + 2000, nil
}
func (l *fakeLauncher) Signal(pid int, sig unix.Signal) error { return nil }

type fakeTimer struct{}

func (fakeTimer) Arm(uint) {}
func (fakeTimer) Disarm()  {}

type fakeTimerFactory struct{}

func (fakeTimerFactory) NewTimer(func()) service.Timer { return fakeTimer{} }

func buildManager(t *testing.T, descs ...*config.Service) *service.Manager {
	t.Helper()
	r, err := repo.New(descs)
	require.NoError(t, err)
	require.Empty(t, r.Wire())
	return service.NewManager(nullLogger{}, r, &fakeLauncher{}, fakeTimerFactory{})
}

// TestEnterDrainingCompletesImmediatelyWhenNothingWasActive covers the
// tinit_sigchan_stop case where the repository had nothing left running
// by the time shutdown was requested: the drain count is already zero,
// so Dispatch must report completion without waiting for any further
// wakeup.
func TestEnterDrainingCompletesImmediatelyWhenNothingWasActive(t *testing.T) {
	m := buildManager(t, &config.Service{Name: "idle", Daemon: []string{"/usr/bin/idle"}})
	loop, err := eventloop.New()
	require.NoError(t, err)
	defer loop.Close()

	c := sigchan.New(nullLogger{}, m, loop)
	require.NoError(t, c.EnterRunning())

	c.EnterDraining(0)

	err = c.Dispatch(unix.EPOLLIN)
	require.ErrorIs(t, err, sigchan.ErrShutdownRequested)
}

// TestEnterDrainingCompletesAsServicesStop mirrors
// tinit_sigchan_dispatch_stopping: the countdown only reaches zero once
// every service the caller told it to watch has actually transitioned
// to Stopped.
func TestEnterDrainingCompletesAsServicesStop(t *testing.T) {
	m := buildManager(t,
		&config.Service{Name: "a", Daemon: []string{"/usr/bin/a"}},
		&config.Service{Name: "b", Daemon: []string{"/usr/bin/b"}},
	)
	loop, err := eventloop.New()
	require.NoError(t, err)
	defer loop.Close()

	c := sigchan.New(nullLogger{}, m, loop)
	require.NoError(t, c.EnterRunning())

	svcA, _ := m.ByName("a")
	svcB, _ := m.ByName("b")
	svcA.Start()
	svcB.Start()
	pidA, pidB := svcA.PID(), svcB.PID()
	svcA.Stop()
	svcB.Stop()

	c.EnterDraining(2)

	require.NoError(t, m.DispatchExit(pidA, 0))
	require.Equal(t, service.Stopped, svcA.State())
	err = c.Dispatch(unix.EPOLLIN)
	require.NoError(t, err)

	require.NoError(t, m.DispatchExit(pidB, 0))
	require.Equal(t, service.Stopped, svcB.State())
	err = c.Dispatch(unix.EPOLLIN)
	require.ErrorIs(t, err, sigchan.ErrShutdownRequested)
}

func TestManagerStoppedHookIgnoredOutsideDrainingMode(t *testing.T) {
	m := buildManager(t, &config.Service{Name: "a", Daemon: []string{"/usr/bin/a"}})
	loop, err := eventloop.New()
	require.NoError(t, err)
	defer loop.Close()

	c := sigchan.New(nullLogger{}, m, loop)
	require.NoError(t, c.EnterRunning())

	svcA, _ := m.ByName("a")
	svcA.Start()
	pid := svcA.PID()
	svcA.Stop()
	require.NoError(t, m.DispatchExit(pid, 0))
	require.Equal(t, service.Stopped, svcA.State())

	err = c.Dispatch(unix.EPOLLIN)
	require.NoError(t, err)
}
