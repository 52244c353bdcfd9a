package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/config"
	"github.com/tuxdude/tinit/internal/service"
)

func simpleDaemon(name string) *config.Service {
	return &config.Service{
		Name:       name,
		Daemon:     []string{"/usr/bin/" + name},
		StopSignal: unix.SIGTERM,
	}
}

func TestStartSpawnsDaemonAndMarksReady(t *testing.T) {
	r := buildRepo(simpleDaemon("syslog"))
	launcher := newFakeLauncher()
	timers := &fakeTimerFactory{}
	m := service.NewManager(nullLogger{}, r, launcher, timers)

	svc, err := m.ByName("syslog")
	require.NoError(t, err)

	svc.Start()

	require.Equal(t, service.Ready, svc.State())
	require.True(t, svc.Admin())
	require.NotZero(t, svc.PID())
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	r := buildRepo(simpleDaemon("syslog"))
	launcher := newFakeLauncher()
	m := service.NewManager(nullLogger{}, r, launcher, &fakeTimerFactory{})
	svc, _ := m.ByName("syslog")

	svc.Start()
	pid := svc.PID()
	svc.HandleEvent(service.Event{Kind: service.EvStart})
	require.Equal(t, pid, svc.PID())
	require.Equal(t, service.Ready, svc.State())
}

func TestDaemonCrashWhileReadyRespawns(t *testing.T) {
	r := buildRepo(simpleDaemon("syslog"))
	launcher := newFakeLauncher()
	timers := &fakeTimerFactory{}
	m := service.NewManager(nullLogger{}, r, launcher, timers)
	svc, _ := m.ByName("syslog")

	svc.Start()
	oldPID := svc.PID()
	// Let the spawn timer expire first so the flap guard does not apply.
	timers.timers[0].Fire()
	require.NoError(t, m.DispatchExit(oldPID, 1))

	require.Equal(t, service.Ready, svc.State())
	require.NotEqual(t, oldPID, svc.PID())
	require.NotZero(t, svc.PID())
}

func TestStopSendsSignalAndWaitsForExit(t *testing.T) {
	r := buildRepo(simpleDaemon("syslog"))
	launcher := newFakeLauncher()
	m := service.NewManager(nullLogger{}, r, launcher, &fakeTimerFactory{})
	svc, _ := m.ByName("syslog")
	svc.Start()
	pid := svc.PID()

	svc.Stop()

	require.Equal(t, service.Stopping, svc.State())
	require.False(t, svc.Admin())
	require.Len(t, launcher.signaled, 1)
	require.Equal(t, fakeSignal{pid: pid, sig: unix.SIGTERM}, launcher.signaled[0])

	require.NoError(t, m.DispatchExit(pid, 0))
	require.Equal(t, service.Stopped, svc.State())
}

func TestStopWithNoRunningChildStopsImmediately(t *testing.T) {
	r := buildRepo(simpleDaemon("syslog"))
	m := service.NewManager(nullLogger{}, r, newFakeLauncher(), &fakeTimerFactory{})
	svc, _ := m.ByName("syslog")

	svc.Stop()

	require.Equal(t, service.Stopped, svc.State())
}

func TestStopOnlyServiceNeverAutoMarksReady(t *testing.T) {
	desc := &config.Service{
		Name:     "cleanup",
		StopCmds: [][]string{{"/usr/bin/cleanup"}},
	}
	r := buildRepo(desc)
	m := service.NewManager(nullLogger{}, r, newFakeLauncher(), &fakeTimerFactory{})
	svc, _ := m.ByName("cleanup")

	svc.Start()

	require.Equal(t, service.Starting, svc.State())
	require.NotEqual(t, service.Ready, svc.State())
}

func TestStartOnGatesStartUntilUpstreamReady(t *testing.T) {
	network := &config.Service{Name: "network", Daemon: []string{"/usr/bin/network"}}
	syslog := &config.Service{Name: "syslog", Daemon: []string{"/usr/bin/syslog"}, StartOn: []string{"network"}}
	r := buildRepo(network, syslog)
	m := service.NewManager(nullLogger{}, r, newFakeLauncher(), &fakeTimerFactory{})

	net, _ := m.ByName("network")
	sys, _ := m.ByName("syslog")

	sys.Start()
	require.Equal(t, service.Starting, sys.State())
	require.Zero(t, sys.PID())

	net.Start()
	require.Equal(t, service.Ready, sys.State())
	require.NotZero(t, sys.PID())
}

func TestStopOnGatesStopUntilUpstreamStopped(t *testing.T) {
	network := &config.Service{Name: "network", Daemon: []string{"/usr/bin/network"}}
	syslog := &config.Service{
		Name:   "syslog",
		Daemon: []string{"/usr/bin/syslog"},
		StopOn: []string{"network"},
	}
	r := buildRepo(network, syslog)
	launcher := newFakeLauncher()
	m := service.NewManager(nullLogger{}, r, launcher, &fakeTimerFactory{})

	net, _ := m.ByName("network")
	sys, _ := m.ByName("syslog")

	net.Start()
	sys.Start()

	sys.Stop()
	require.Equal(t, service.Stopping, sys.State())
	require.Empty(t, launcher.signaled)

	netPID := net.PID()
	net.Stop()
	require.NoError(t, m.DispatchExit(netPID, 0))
	require.Equal(t, service.Stopped, net.State())

	require.Equal(t, service.Stopped, sys.State())
}

func TestReloadRequiresReadyState(t *testing.T) {
	r := buildRepo(simpleDaemon("syslog"))
	m := service.NewManager(nullLogger{}, r, newFakeLauncher(), &fakeTimerFactory{})
	svc, _ := m.ByName("syslog")

	require.Error(t, svc.Reload())

	svc.Start()
	require.NoError(t, svc.Reload())
}

func TestMultiStepStartSequenceRunsInOrder(t *testing.T) {
	desc := &config.Service{
		Name: "setup",
		StartCmds: [][]string{
			{"/usr/bin/step1"},
			{"/usr/bin/step2"},
		},
		Daemon: []string{"/usr/bin/resident"},
	}
	r := buildRepo(desc)
	launcher := newFakeLauncher()
	m := service.NewManager(nullLogger{}, r, launcher, &fakeTimerFactory{})
	svc, _ := m.ByName("setup")

	svc.Start()
	require.Equal(t, service.Starting, svc.State())
	step1 := svc.PID()

	require.NoError(t, m.DispatchExit(step1, 0))
	require.Equal(t, service.Starting, svc.State())
	step2 := svc.PID()
	require.NotEqual(t, step1, step2)

	require.NoError(t, m.DispatchExit(step2, 0))
	require.Equal(t, service.Ready, svc.State())
}
