package service

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/config"
)

// Launcher spawns and signals a service's commands. Service depends on
// this interface rather than os/exec directly so the state machine can be
// exercised with a fake in tests, the same separation pico draws between
// serviceManagerImpl and serviceLauncher.
type Launcher interface {
	// Spawn starts argv with desc's stdio/environment applied and
	// returns its pid.
	Spawn(argv []string, desc *config.Service) (int, error)
	// Signal delivers sig to pid.
	Signal(pid int, sig unix.Signal) error
}

// OSLauncher is the production Launcher, grounded on svc_exec/svc_spawn:
// a new session leader, stdin/stdout reopened onto the configured device
// nodes, the configured environment, and no further file descriptor
// inheritance beyond what exec.Cmd wires up.
type OSLauncher struct{}

var _ Launcher = OSLauncher{}

// Spawn forks and execs argv[0] with argv as its arguments. It does not
// wait for the child: reaping and exit-status delivery are
// internal/sigchan's job, the same division svc_spawn and
// tinit_sigchan_handle_sigchld keep in the original.
func (OSLauncher) Spawn(argv []string, desc *config.Service) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = append(os.Environ(), desc.Env...)

	if desc.Stdin != "" {
		f, err := openStdio(desc.Stdin, os.O_RDWR, true)
		if err != nil {
			return 0, fmt.Errorf("%w: stdin %s: %v", ErrSpawnFailed, desc.Stdin, err)
		}
		defer f.Close()
		cmd.Stdin = f
	} else {
		cmd.Stdin = nil
	}

	if desc.Stdout != "" {
		f, err := openStdio(desc.Stdout, os.O_WRONLY|os.O_APPEND, false)
		if err != nil {
			return 0, fmt.Errorf("%w: stdout %s: %v", ErrSpawnFailed, desc.Stdout, err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, argv[0], err)
	}

	// Reap the underlying os.Process handle's own finalizer goroutine
	// expectations: since reaping happens out-of-band via internal/sigchan's
	// wait4 loop rather than cmd.Wait, release the handle so the runtime
	// does not also try to reap it.
	_ = cmd.Process.Release()

	return cmd.Process.Pid, nil
}

// Signal delivers sig to pid, translating ESRCH into ErrProcessGone the
// way svc_kill does.
func (OSLauncher) Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return ErrNoChild
	}
	if err := unix.Kill(pid, sig); err != nil {
		if err == unix.ESRCH {
			return ErrProcessGone
		}
		return err
	}
	return nil
}

// openStdio opens path for a child's stdio, refusing to follow symlinks
// and requiring a character device when requireChar is set, mirroring
// svc_reopen_stdin's S_ISCHR check (stdout is not required to be a
// character device, matching svc_reopen_stdout).
func openStdio(path string, flag int, requireChar bool) (*os.File, error) {
	f, err := os.OpenFile(path, flag|unix.O_NOFOLLOW|unix.O_NOATIME, 0)
	if err != nil {
		return nil, err
	}
	if requireChar {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if st.Mode()&os.ModeCharDevice == 0 {
			f.Close()
			return nil, fmt.Errorf("%s: not a character device", path)
		}
	}
	return f, nil
}
