package service

import (
	"fmt"

	"github.com/tuxdude/zzzlogi"

	"github.com/tuxdude/tinit/internal/repo"
)

// TimerFactory builds the Timer a Service arms on every spawn. In
// production it is cmd/tinit's small adapter around
// *eventloop.Scheduler: Scheduler.NewTimer returns the concrete
// *eventloop.TimerHandle, so the Scheduler does not satisfy this
// interface by itself.
type TimerFactory interface {
	NewTimer(callback func()) Timer
}

// Manager owns every Service loaded into a Repository and is the
// concrete Notifier they call back into. It plays the role
// serviceManagerImpl plays in pico, generalized from one-or-many
// identical services to a repository of distinct, interdependent ones.
type Manager struct {
	log      zzzlogi.Logger
	repo     *repo.Repository
	launcher Launcher
	timers   TimerFactory
	services map[repo.Handle]*Service
	stopped  func()
}

var _ Notifier = (*Manager)(nil)

// NewManager builds a Service for every descriptor in r and wires each
// one's Timer through timers. Repository.Wire must already have been
// called so Observer edges are in place before any service starts.
func NewManager(log zzzlogi.Logger, r *repo.Repository, launcher Launcher, timers TimerFactory) *Manager {
	m := &Manager{
		log:      log,
		repo:     r,
		launcher: launcher,
		timers:   timers,
		services: make(map[repo.Handle]*Service, r.Len()),
	}
	for _, h := range r.Handles() {
		handle := h
		svc := New(log, handle, r.Descriptor(handle), r, m, launcher, nil)
		svc.timer = timers.NewTimer(svc.Expire)
		m.services[handle] = svc
	}
	return m
}

// SetStoppedHook registers fn to be called every time any managed
// Service reaches the Stopped state. internal/sigchan uses this to
// track its DRAINING countdown without Manager needing to know that
// package exists.
func (m *Manager) SetStoppedHook(fn func()) {
	m.stopped = fn
}

// Service returns the Service for h.
func (m *Manager) Service(h repo.Handle) *Service { return m.services[h] }

// ByName looks up a Service by its configured name.
func (m *Manager) ByName(name string) (*Service, error) {
	h, err := m.repo.ByName(name)
	if err != nil {
		return nil, err
	}
	return m.services[h], nil
}

// All returns every managed Service, in Repository insertion order.
func (m *Manager) All() []*Service {
	out := make([]*Service, 0, len(m.services))
	for _, h := range m.repo.Handles() {
		out = append(out, m.services[h])
	}
	return out
}

// StateOf implements Notifier for may-start/may-stop polling.
func (m *Manager) StateOf(h repo.Handle) State {
	return m.services[h].State()
}

// Broadcast implements Notifier: fan src's new state out to every
// registered starton/stopon observer, the Go equivalent of
// notif_foreach(&svc->starton_obsrv, ...) / stopon_obsrv.
func (m *Manager) Broadcast(src repo.Handle, s State) {
	var observers []repo.Handle
	switch s {
	case Ready:
		observers = m.repo.Observer.ObserversOfReady(src)
	case Stopped:
		observers = m.repo.Observer.ObserversOfStopped(src)
		if m.stopped != nil {
			m.stopped()
		}
	default:
		return
	}
	for _, obs := range observers {
		m.services[obs].HandleNotif(src)
	}
}

// DispatchExit routes a reaped child's exit status to the service that
// owned pid, the Go counterpart of tinit_sigchan_handle_sigchld looking
// the pid up in the repo and calling svc_handle_evts(svc, SVC_EXIT_EVT,
// status).
func (m *Manager) DispatchExit(pid int, status int) error {
	h, err := m.repo.ByPID(pid)
	if err != nil {
		return fmt.Errorf("dispatch exit for unknown pid %d: %w", pid, err)
	}
	m.repo.ClearPID(h)
	m.services[h].HandleEvent(Event{Kind: EvExit, Status: status})
	return nil
}
