// Command tinit is PID 1: it loads a repository of service
// descriptors, starts the boot target, runs the event loop until a
// shutdown signal arrives, drains every active service, then kills
// whatever is left and reboots, halts or powers off. Grounded on
// init.c's main/tinit_loop/tinit_shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/bootarg"
	"github.com/tuxdude/tinit/internal/bootenv"
	"github.com/tuxdude/tinit/internal/config"
	"github.com/tuxdude/tinit/internal/control"
	"github.com/tuxdude/tinit/internal/eventloop"
	"github.com/tuxdude/tinit/internal/logging"
	"github.com/tuxdude/tinit/internal/reboot"
	"github.com/tuxdude/tinit/internal/repo"
	"github.com/tuxdude/tinit/internal/service"
	"github.com/tuxdude/tinit/internal/sigchan"
	"github.com/tuxdude/tinit/internal/target"
)

// Default filesystem layout, the Go counterparts of
// CONFIG_TINIT_SYSCONFDIR and TINIT_SOCK_PATH's CONFIG_TINIT_RUNSTATEDIR.
const (
	defaultServicesDir = "/etc/tinit/services"
	defaultTargetsDir  = "/etc/tinit"
	defaultSockPath    = "/run/tinit.sock"
	defaultAdminGID    = 0
)

func main() {
	log := logging.NewStderr(logging.Info)

	if unix.Getpid() != 1 {
		fmt.Fprintln(os.Stderr, "tinit: must be run as PID 1, exiting.")
		os.Exit(1)
	}

	unix.Umask(0077)

	opts := bootarg.Parse(log, os.Args)
	log.SetThreshold(effectiveThreshold(opts))

	if err := unix.Chdir("/"); err != nil {
		log.Fatalf("cannot chdir to /: %v", err)
	}

	initSignals()

	if err := bootenv.Reset(); err != nil {
		log.Fatalf("cannot setup initial environment: %v", err)
	}

	descs, warns := config.Load(defaultServicesDir)
	for _, w := range warns {
		log.Warnf("config: %v", w)
	}

	r, err := repo.New(descs)
	if err != nil {
		log.Fatalf("cannot load services: %v", err)
	}
	for _, wireErr := range r.Wire() {
		log.Warnf("repo: %v", wireErr)
	}

	if err := run(log, r, opts.Target); err != nil {
		log.Fatalf("cannot run services loop: %v", err)
	}
}

// effectiveThreshold folds stdlog= and mqlog= onto the one logger this
// rewrite keeps, where the original multiplexes onto two independent
// destinations (log.c's elog_init_stdio and elog_create_mqueue). The
// more verbose of the two thresholds wins, so a message requested on
// either destination is never silently dropped.
func effectiveThreshold(opts bootarg.Options) logging.Priority {
	if opts.MQLog > opts.StdLog {
		return opts.MQLog
	}
	return opts.StdLog
}

// initSignals is init_signals generalized to Go's signal model: rather
// than a raw sigprocmask covering almost the entire signal set (which
// would fight the Go runtime's own per-thread signal handling),
// everything PID 1 must not die from by default is explicitly ignored.
// The crash signals (SIGILL, SIGABRT, SIGFPE, SIGSEGV, SIGBUS) are left
// alone so a genuine tinit bug still terminates with a core dump instead
// of being silently swallowed; SIGCHLD, SIGTERM, SIGUSR1, SIGUSR2 and
// SIGPWR are left alone here too since internal/sigchan.EnterRunning
// arms its own os/signal.Notify for exactly those once the boot target
// starts.
func initSignals() {
	signal.Ignore(
		unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGPIPE, unix.SIGALRM,
		unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU, unix.SIGURG, unix.SIGIO,
		unix.SIGWINCH, unix.SIGVTALRM, unix.SIGPROF, unix.SIGXCPU, unix.SIGXFSZ,
	)
}

// timerFactory adapts *eventloop.Scheduler's concrete *TimerHandle
// return value to the service.TimerFactory interface, which expects
// the service.Timer interface type back: the two packages stay mutually
// unaware of each other, so the adapter lives here instead.
type timerFactory struct{ sched *eventloop.Scheduler }

func (f timerFactory) NewTimer(callback func()) service.Timer {
	return f.sched.NewTimer(callback)
}

// run is tinit_loop: build the event loop and every worker registered
// with it, start the boot target, run until a shutdown is requested,
// drain, kill whatever is left and hand the reboot mode the triggering
// signal selected to reboot.Do. It returns only on an error.
func run(log *logging.Logger, r *repo.Repository, bootTarget string) error {
	loop, err := eventloop.New()
	if err != nil {
		return fmt.Errorf("poller: cannot initialize: %w", err)
	}
	defer loop.Close()

	manager := service.NewManager(log, r, service.OSLauncher{}, timerFactory{loop.Scheduler})
	sigs := sigchan.New(log, manager, loop)

	tgt := target.New(log, r, manager, defaultTargetsDir, defaultServicesDir, sigs)

	srv := control.New(log, manager, tgt, defaultAdminGID)
	if err := srv.Open(defaultSockPath, loop); err != nil {
		return fmt.Errorf("control: cannot open: %w", err)
	}

	if err := tgt.Start(bootTarget); err != nil {
		srv.Close()
		return err
	}

	runErr := loop.Run()
	if runErr != nil && runErr != sigchan.ErrShutdownRequested {
		srv.Close()
		return runErr
	}

	mode, err := reboot.ModeForSignal(sigs.ShutdownSignal())
	if err != nil {
		log.Warnf("%v, defaulting to reboot.", err)
		mode = reboot.Reboot
	}

	srv.Close()
	tgt.Stop()

	if err := loop.Run(); err != nil && err != sigchan.ErrShutdownRequested {
		log.Warnf("error draining services: %v", err)
	}

	reboot.KillAll(log)
	return reboot.Do(log, mode)
}
