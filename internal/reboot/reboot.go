// Package reboot performs the final, irreversible step of a tinit
// shutdown: killing every process still alive, syncing, and asking the
// kernel to reboot, halt or power off. Grounded on init.c's
// tinit_killall and tinit_shutdown.
package reboot

import (
	"fmt"

	"github.com/tuxdude/zzzlogi"
	"golang.org/x/sys/unix"
)

// Mode selects the action reboot(2) performs, the Go counterpart of the
// RB_AUTOBOOT/RB_HALT_SYSTEM/RB_POWER_OFF constants tinit_loop maps
// shutdown signals onto.
type Mode int

const (
	Reboot Mode = iota
	Halt
	PowerOff
)

func (m Mode) String() string {
	switch m {
	case Reboot:
		return "rebooting"
	case Halt:
		return "halting"
	case PowerOff:
		return "powering off"
	default:
		return "unknown"
	}
}

func (m Mode) cmd() int {
	switch m {
	case Reboot:
		return unix.LINUX_REBOOT_CMD_RESTART
	case Halt:
		return unix.LINUX_REBOOT_CMD_HALT
	case PowerOff:
		return unix.LINUX_REBOOT_CMD_POWER_OFF
	default:
		return unix.LINUX_REBOOT_CMD_RESTART
	}
}

// ModeForSignal maps the first shutdown-triggering signal
// internal/sigchan recorded onto a Mode, the Go counterpart of
// tinit_loop's switch on tinit_sigchan_get_signo.
func ModeForSignal(sig unix.Signal) (Mode, error) {
	switch sig {
	case unix.SIGTERM:
		return Reboot, nil
	case unix.SIGUSR1:
		return Halt, nil
	case unix.SIGUSR2, unix.SIGPWR:
		return PowerOff, nil
	default:
		return 0, fmt.Errorf("reboot: unexpected shutdown signal %d", sig)
	}
}

// KillAll is tinit_killall: SIGKILL every process but PID 1, then reap
// them with wait4 (blocking, since nothing is left to service once a
// shutdown has been decided) until none are left.
func KillAll(log zzzlogi.Logger) {
	_ = unix.Kill(-1, unix.SIGKILL)

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			break
		}
		log.Debugf("reboot: killed pid %d.", pid)
	}

	log.Infof("reboot: killed all processes left.")
}

// Do is tinit_shutdown: sync the filesystems and ask the kernel to
// act on mode. It never returns on success, matching the original's
// __noreturn annotation; the kernel itself terminates PID 1's
// execution context once reboot(2) takes effect.
func Do(log zzzlogi.Logger, mode Mode) error {
	unix.Sync()

	log.Infof("%s...", mode)

	if err := unix.Reboot(mode.cmd()); err != nil {
		return fmt.Errorf("reboot: reboot(2): %w", err)
	}

	select {}
}
