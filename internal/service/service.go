// Package service implements the per-service state machine at the heart
// of the supervisor: the STOPPED/STARTING/READY/STOPPING lifecycle, its
// administrative on/off flag, and the starton/stopon notification
// handshake between services. It is grounded directly on svc.c, with the
// C file's function-pointer-swapped handler pairs
// (svc_handle_on_evts/svc_handle_off_evts and
// svc_handle_on_notif/svc_handle_off_notif) replaced by a single admin
// bool and a switch at each entry point, since Go has no lightweight
// equivalent of reassigning a function pointer on a struct and doesn't
// need one: a bool captures the same two-handler-set distinction.
package service

import (
	"fmt"

	"github.com/tuxdude/zzzlogi"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/config"
	"github.com/tuxdude/tinit/internal/repo"
)

// Notifier is how a Service reaches its siblings: StateOf answers
// may-start/may-stop polling questions about another service, Broadcast
// fans a Ready/Stopped transition out to every registered observer. A
// *Manager is the production implementation.
type Notifier interface {
	StateOf(h repo.Handle) State
	Broadcast(h repo.Handle, s State)
}

// Service is one service's state machine. All of its methods assume
// single-threaded, cooperative calling: nothing here takes a lock, the
// same assumption svc.c makes about running entirely on tinit's one
// thread of execution.
type Service struct {
	log      zzzlogi.Logger
	handle   repo.Handle
	desc     *config.Service
	repo     *repo.Repository
	notifier Notifier
	launcher Launcher
	timer    Timer

	admin      bool // true once Start() has been called, false once Stop() has
	state      State
	pid        int
	startCmd   int
	stopCmd    int
	timerArmed bool
}

// New constructs a Service in the Stopped/admin-off state, the boot-time
// default every loaded descriptor starts in before its target is walked.
func New(log zzzlogi.Logger, h repo.Handle, desc *config.Service, r *repo.Repository, n Notifier, l Launcher, t Timer) *Service {
	return &Service{
		log:      log,
		handle:   h,
		desc:     desc,
		repo:     r,
		notifier: n,
		launcher: l,
		timer:    t,
		state:    Stopped,
	}
}

// Handle returns the service's stable identity within its Repository.
func (s *Service) Handle() repo.Handle { return s.handle }

// Descriptor returns the service's immutable configuration.
func (s *Service) Descriptor() *config.Service { return s.desc }

// State reports the current lifecycle state.
func (s *Service) State() State { return s.state }

// Admin reports whether the service has been administratively started
// (true) or stopped (false). It is independent of State: a STARTING
// service waiting on an unready starton dependency is still Admin()==true.
func (s *Service) Admin() bool { return s.admin }

// PID returns the currently tracked child pid, or 0 if none.
func (s *Service) PID() int { return s.pid }

// HandleEvent feeds svc.c's svc_handle_notif-adjacent SVC_START_EVT,
// SVC_STOP_EVT and SVC_EXIT_EVT stimuli into the state machine,
// dispatching to the on or off handler set per the current admin flag.
func (s *Service) HandleEvent(evt Event) {
	if s.admin {
		s.handleOnEvent(evt)
	} else {
		s.handleOffEvent(evt)
	}
}

// HandleNotif is called when src, one of this service's starton or
// stopon dependencies, has just transitioned state.
func (s *Service) HandleNotif(src repo.Handle) {
	if s.admin {
		s.handleOnNotif(src)
	} else {
		s.handleOffNotif(src)
	}
}

// handleOnEvent is svc_handle_on_evts: the STARTING/READY event table.
func (s *Service) handleOnEvent(evt Event) {
	switch s.state {
	case Starting:
		switch evt.Kind {
		case EvStart:
		case EvStop:
			s.Stop()
		case EvExit:
			if evt.Status == 0 {
				s.startCmd++
				s.respawn()
			} else if !s.timerArmed {
				s.respawn()
			} else {
				s.pid = 0
			}
		}
	case Ready:
		switch evt.Kind {
		case EvStart:
		case EvStop:
			s.Stop()
		case EvExit:
			if !s.timerArmed {
				s.state = Starting
				s.respawn()
			} else {
				s.pid = 0
			}
		}
	default:
		s.log.Errorf("%s: event %d delivered in admin-on state %s", s.desc.Name, evt.Kind, s.state)
	}
}

// handleOffEvent is svc_handle_off_evts: the STOPPED/STOPPING event
// table.
func (s *Service) handleOffEvent(evt Event) {
	switch s.state {
	case Stopped:
		switch evt.Kind {
		case EvStart:
			s.Start()
		case EvStop:
		}
	case Stopping:
		switch evt.Kind {
		case EvStart:
			s.Start()
		case EvStop:
		case EvExit:
			s.spawnStopCmd()
		}
	default:
		s.log.Errorf("%s: event %d delivered in admin-off state %s", s.desc.Name, evt.Kind, s.state)
	}
}

// handleOnNotif is svc_handle_on_notif.
func (s *Service) handleOnNotif(src repo.Handle) {
	switch s.state {
	case Starting:
	case Ready:
		return
	default:
		return
	}

	switch s.notifier.StateOf(src) {
	case Ready:
	default:
		return
	}

	if s.mayStart() {
		s.spawnStartCmd()
	}
}

// handleOffNotif is svc_handle_off_notif.
func (s *Service) handleOffNotif(src repo.Handle) {
	switch s.state {
	case Stopped:
		return
	case Stopping:
	default:
		return
	}

	switch s.notifier.StateOf(src) {
	case Stopped:
	default:
		return
	}

	if s.mayStop() {
		s.spawnStopCmd()
	}
}

// mayStart is svc_may_start: every starton source must currently be
// Ready.
func (s *Service) mayStart() bool {
	for _, src := range s.repo.Observer.StartSources(s.handle) {
		if s.notifier.StateOf(src) != Ready {
			return false
		}
	}
	return true
}

// mayStop is svc_may_stop: every stopon source must currently be
// Stopped.
func (s *Service) mayStop() bool {
	for _, src := range s.repo.Observer.StopSources(s.handle) {
		if s.notifier.StateOf(src) != Stopped {
			return false
		}
	}
	return true
}

// Start is svc_start: the administrative request to bring the service
// up. Idempotent while already starting or ready, matching the on-state
// event table's no-op on a second SVC_START_EVT.
func (s *Service) Start() {
	if s.admin {
		return
	}

	s.log.Infof("%s: starting service...", s.desc.Name)

	s.admin = true
	s.state = Starting
	s.timer.Disarm()
	s.timerArmed = false
	s.startCmd = 0

	if s.mayStart() {
		s.spawnStartCmd()
	}
}

// spawnStartCmd is svc_spawn_start_cmd: run the next queued start
// command, or the resident daemon once the start sequence is exhausted.
func (s *Service) spawnStartCmd() {
	var (
		argv []string
		mark bool
	)

	if s.startCmd < len(s.desc.StartCmds) {
		argv = s.desc.StartCmds[s.startCmd]
	} else {
		if len(s.desc.StartCmds) == 0 && s.desc.Daemon == nil {
			// A stop-only service has nothing to run on start: it
			// stays Starting and is never marked Ready.
			return
		}
		argv = s.desc.Daemon
		mark = true
	}

	if argv != nil {
		pid, err := s.spawn(argv, 1)
		if err != nil {
			s.pid = 0
			return
		}
		s.pid = pid
	} else {
		s.pid = 0
	}

	if mark {
		s.markReady()
	}
}

// respawn is svc_respawn: start over from the current command index.
func (s *Service) respawn() {
	s.spawnStartCmd()
}

// markReady is svc_mark_ready.
func (s *Service) markReady() {
	s.state = Ready
	s.log.Infof("%s: service ready.", s.desc.Name)
	s.notifier.Broadcast(s.handle, Ready)
}

// Stop is svc_stop: the administrative request to bring the service
// down.
func (s *Service) Stop() {
	s.log.Infof("%s: stopping service...", s.desc.Name)

	s.admin = false
	s.state = Stopping
	s.timer.Disarm()
	s.timerArmed = false
	s.stopCmd = -1

	if !s.mayStop() {
		return
	}

	if err := s.kill(s.desc.StopSignal); err == nil {
		s.timer.Arm(5)
		s.timerArmed = true
		return
	}

	s.spawnStopCmd()
}

// spawnStopCmd is svc_spawn_stop_cmd: advance to the next stop command,
// or mark the service stopped once the sequence is exhausted.
func (s *Service) spawnStopCmd() {
	s.stopCmd++

	if s.stopCmd >= len(s.desc.StopCmds) {
		s.markStopped()
		return
	}

	pid, err := s.spawn(s.desc.StopCmds[s.stopCmd], 5)
	if err != nil {
		s.pid = 0
		return
	}
	s.pid = pid
}

// markStopped is svc_mark_stopped.
func (s *Service) markStopped() {
	s.pid = 0
	s.state = Stopped
	s.log.Infof("%s: service stopped.", s.desc.Name)
	s.notifier.Broadcast(s.handle, Stopped)
}

// Reload is svc_reload: signal a Ready service's resident daemon without
// touching its state.
func (s *Service) Reload() error {
	if s.state != Ready {
		return fmt.Errorf("%s: cannot reload service in state %s", s.desc.Name, s.state)
	}
	s.log.Infof("%s: reloading service...", s.desc.Name)
	return s.kill(s.desc.ReloadSignal)
}

// spawn is svc_spawn: launch argv, arm the per-attempt timer on success,
// and log the way svc_spawn/svc_exec do.
func (s *Service) spawn(argv []string, timeoutSeconds uint) (int, error) {
	pid, err := s.launcher.Spawn(argv, s.desc)
	if err != nil {
		s.log.Errorf("%s: %s: cannot spawn: %v", s.desc.Name, argv[0], err)
		return 0, err
	}
	s.log.Debugf("%s: %s[%d]: spawned.", s.desc.Name, argv[0], pid)
	s.repo.SetPID(s.handle, pid)
	s.timer.Arm(timeoutSeconds)
	s.timerArmed = true
	return pid, nil
}

// kill is svc_kill.
func (s *Service) kill(sig unix.Signal) error {
	return s.launcher.Signal(s.pid, sig)
}

// killHard is the SIGKILL escalation svc_expire_off performs when the
// graceful stop signal's timeout has elapsed.
func (s *Service) killHard() error {
	return s.launcher.Signal(s.pid, unix.SIGKILL)
}

// Expire is the single callback a Service's Timer fires on expiry. It
// dispatches to the svc_expire_on or svc_expire_off behavior according
// to the current admin flag, the same way the original selects between
// them by reassigning svc->timer's callback in svc_start/svc_stop.
func (s *Service) Expire() {
	s.timerArmed = false
	if s.admin {
		s.expireOn()
	} else {
		s.expireOff()
	}
}

// expireOn is svc_expire_on.
func (s *Service) expireOn() {
	switch s.state {
	case Ready:
	case Starting:
		if s.pid <= 0 {
			s.respawn()
		}
	default:
		s.log.Errorf("%s: start timer expired in unexpected state %s", s.desc.Name, s.state)
	}
}

// expireOff is svc_expire_off.
func (s *Service) expireOff() {
	switch s.state {
	case Stopped:
	case Stopping:
		if s.pid <= 0 {
			s.spawnStopCmd()
			return
		}
		if err := s.killHard(); err != nil {
			s.spawnStopCmd()
		}
	default:
		s.log.Errorf("%s: stop timer expired in unexpected state %s", s.desc.Name, s.state)
	}
}
