package reboot_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/reboot"
)

func TestModeForSignalMapsShutdownSignals(t *testing.T) {
	cases := []struct {
		sig  unix.Signal
		mode reboot.Mode
	}{
		{unix.SIGTERM, reboot.Reboot},
		{unix.SIGUSR1, reboot.Halt},
		{unix.SIGUSR2, reboot.PowerOff},
		{unix.SIGPWR, reboot.PowerOff},
	}

	for _, c := range cases {
		mode, err := reboot.ModeForSignal(c.sig)
		require.NoError(t, err)
		require.Equal(t, c.mode, mode)
	}
}

func TestModeForSignalRejectsUnrelatedSignal(t *testing.T) {
	_, err := reboot.ModeForSignal(unix.SIGCHLD)
	require.Error(t, err)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "rebooting", reboot.Reboot.String())
	require.Equal(t, "halting", reboot.Halt.String())
	require.Equal(t, "powering off", reboot.PowerOff.String())
	require.Equal(t, "unknown", reboot.Mode(99).String())
}
