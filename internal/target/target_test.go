package target_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/config"
	"github.com/tuxdude/tinit/internal/repo"
	"github.com/tuxdude/tinit/internal/service"
	"github.com/tuxdude/tinit/internal/target"
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
	return l.nextPID + 1000, nil
}
func (l *fakeLauncher) Signal(pid int, sig unix.Signal) error { return nil }

type fakeTimer struct{}

func (fakeTimer) Arm(uint) {}
func (fakeTimer) Disarm()  {}

type fakeTimerFactory struct{}

func (fakeTimerFactory) NewTimer(func()) service.Timer { return fakeTimer{} }

type fakeSigchan struct {
	running  bool
	draining int
}

func (f *fakeSigchan) EnterRunning() error     { f.running = true; return nil }
func (f *fakeSigchan) EnterDraining(count int) { f.draining = count }

type tree struct {
	targetsDir  string
	servicesDir string
	repo        *repo.Repository
	manager     *service.Manager
}

func setupTree(t *testing.T) tree {
	t.Helper()
	root := t.TempDir()
	servicesDir := filepath.Join(root, "services")
	targetsDir := filepath.Join(root, "targets")
	bootDir := filepath.Join(targetsDir, "boot")
	require.NoError(t, os.MkdirAll(servicesDir, 0755))
	require.NoError(t, os.MkdirAll(bootDir, 0755))

	for _, name := range []string{"network.yaml", "syslog.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(servicesDir, name), nil, 0644))
		require.NoError(t, os.Symlink(filepath.Join(servicesDir, name), filepath.Join(bootDir, name)))
	}

	r, err := repo.New([]*config.Service{
		{Name: "network", Path: "network.yaml", Daemon: []string{"/usr/bin/network"}},
		{Name: "syslog", Path: "syslog.yaml", Daemon: []string{"/usr/bin/syslog"}, StartOn: []string{"network"}},
	})
	require.NoError(t, err)
	require.Empty(t, r.Wire())

	m := service.NewManager(nullLogger{}, r, &fakeLauncher{}, fakeTimerFactory{})

	return tree{targetsDir: targetsDir, servicesDir: servicesDir, repo: r, manager: m}
}

func TestControllerStartStartsEveryMember(t *testing.T) {
	tr := setupTree(t)
	sc := &fakeSigchan{}
	c := target.New(nullLogger{}, tr.repo, tr.manager, tr.targetsDir, tr.servicesDir, sc)

	require.NoError(t, c.Start("boot"))

	require.True(t, sc.running)
	network, _ := tr.repo.ByName("network")
	syslog, _ := tr.repo.ByName("syslog")
	require.Equal(t, service.Ready, tr.manager.Service(network).State())
	require.Equal(t, service.Ready, tr.manager.Service(syslog).State())
}

func TestControllerStopStopsActiveServices(t *testing.T) {
	tr := setupTree(t)
	sc := &fakeSigchan{}
	c := target.New(nullLogger{}, tr.repo, tr.manager, tr.targetsDir, tr.servicesDir, sc)
	require.NoError(t, c.Start("boot"))

	c.Stop()

	network, _ := tr.repo.ByName("network")
	require.Equal(t, service.Stopping, tr.manager.Service(network).State())
	require.Equal(t, 2, sc.draining)
}

func TestControllerSwitchStopsDroppedAndStartsAdded(t *testing.T) {
	tr := setupTree(t)
	require.NoError(t, os.MkdirAll(filepath.Join(tr.targetsDir, "single"), 0755))
	require.NoError(t, os.Symlink(
		filepath.Join(tr.servicesDir, "network.yaml"),
		filepath.Join(tr.targetsDir, "single", "network.yaml"),
	))

	sc := &fakeSigchan{}
	c := target.New(nullLogger{}, tr.repo, tr.manager, tr.targetsDir, tr.servicesDir, sc)
	require.NoError(t, c.Start("boot"))

	require.NoError(t, c.Switch("single"))

	network, _ := tr.repo.ByName("network")
	syslog, _ := tr.repo.ByName("syslog")
	require.Equal(t, service.Ready, tr.manager.Service(network).State())
	require.Equal(t, service.Stopping, tr.manager.Service(syslog).State())
}
