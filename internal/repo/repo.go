// Package repo holds the set of loaded service descriptors and the
// notifier graph wired between them, the Go counterpart of repo.c and
// notif.c. It intentionally knows nothing about process state machines:
// internal/service looks services up here by Handle and reports back
// PID changes through SetPID/ClearPID, the same separation repo.c keeps
// from svc.c even though the original shares one struct svc for both.
package repo

import (
	"fmt"

	"github.com/tuxdude/tinit/internal/config"
)

// Handle is a stable identifier for a service within a Repository: its
// insertion index. Unlike repo.c's raw struct svc pointers, a Handle
// survives independent of any particular goroutine or slice reallocation
// and is cheap to compare, copy and use as a map key.
type Handle int

// entry pairs a loaded descriptor with its current child pid, when it has
// one running.
type entry struct {
	desc *config.Service
	pid  int // 0 when no child is currently associated
}

// Repository is the fixed set of services loaded at boot. Nothing is
// added or removed after Load populates it: a changed configuration
// requires a restart of tinit itself, matching the original's
// load-once-at-boot model.
type Repository struct {
	entries  []entry
	byName   map[string]Handle
	byPath   map[string]Handle
	byPID    map[int]Handle
	Observer *ObserverGraph
}

// New builds a Repository from descriptors already loaded and validated
// by internal/config.Load. Order is preserved, so Handle 0 is descs[0].
func New(descs []*config.Service) (*Repository, error) {
	r := &Repository{
		entries:  make([]entry, 0, len(descs)),
		byName:   make(map[string]Handle, len(descs)),
		byPath:   make(map[string]Handle, len(descs)),
		byPID:    make(map[int]Handle, len(descs)),
		Observer: NewObserverGraph(len(descs)),
	}
	for _, d := range descs {
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		h := Handle(len(r.entries))
		r.entries = append(r.entries, entry{desc: d})
		r.byName[d.Name] = h
	}
	// Recorded in a second pass, once every name is known, so that a
	// descriptor appearing earlier in iteration order can reference one
	// appearing later in insertion order by path.
	for h, e := range r.entries {
		if e.desc.Path != "" {
			r.byPath[e.desc.Path] = Handle(h)
		}
	}
	return r, nil
}

// Wire resolves every descriptor's StartOn/StopOn name lists into
// notifier edges. An entry naming a service that doesn't exist is
// skipped with an error appended to the returned slice rather than
// aborting the whole wiring pass, matching
// tinit_repo_setup_svc_starton/stopon's warn-and-continue behavior when a
// referenced service is missing. A wiring that would close a cycle is
// likewise reported and skipped; it is an error in the configuration, not
// a reason to refuse booting entirely.
func (r *Repository) Wire() []error {
	var errs []error
	for h := range r.entries {
		owner := Handle(h)
		desc := r.entries[h].desc

		starton, missing := r.resolveNames(desc.StartOn)
		for _, name := range missing {
			errs = append(errs, fmt.Errorf("%s: starton references unknown service %q", desc.Name, name))
		}
		if len(starton) > 0 {
			if err := r.Observer.RegisterStartOn(owner, starton); err != nil {
				errs = append(errs, fmt.Errorf("%s: starton: %w", desc.Name, err))
			}
		}

		stopon, missing := r.resolveNames(desc.StopOn)
		for _, name := range missing {
			errs = append(errs, fmt.Errorf("%s: stopon references unknown service %q", desc.Name, name))
		}
		if len(stopon) > 0 {
			if err := r.Observer.RegisterStopOn(owner, stopon); err != nil {
				errs = append(errs, fmt.Errorf("%s: stopon: %w", desc.Name, err))
			}
		}
	}
	return errs
}

func (r *Repository) resolveNames(names []string) (handles []Handle, missing []string) {
	for _, name := range names {
		h, ok := r.byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		handles = append(handles, h)
	}
	return handles, missing
}

// Len returns the number of loaded services.
func (r *Repository) Len() int { return len(r.entries) }

// Handles returns every Handle in insertion order.
func (r *Repository) Handles() []Handle {
	hs := make([]Handle, len(r.entries))
	for i := range r.entries {
		hs[i] = Handle(i)
	}
	return hs
}

// Descriptor returns the descriptor for h. Panics on an out-of-range
// Handle: a Handle never outlives the Repository that issued it, so an
// invalid one is a programming error, not a runtime condition to recover
// from.
func (r *Repository) Descriptor(h Handle) *config.Service {
	return r.entries[h].desc
}

// ByName looks up a service by its configured name.
func (r *Repository) ByName(name string) (Handle, error) {
	h, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return h, nil
}

// ByPath looks up a service by the base name of its origin file, used by
// target symlink resolution.
func (r *Repository) ByPath(path string) (Handle, error) {
	h, ok := r.byPath[path]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return h, nil
}

// ByPID looks up the service currently owning child pid, used when
// reaping a terminated child to know which state machine to feed the
// exit event to.
func (r *Repository) ByPID(pid int) (Handle, error) {
	h, ok := r.byPID[pid]
	if !ok {
		return 0, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return h, nil
}

// SetPID records that h's current child is pid, replacing the prior
// association if any. Called by internal/service right after a
// successful spawn.
func (r *Repository) SetPID(h Handle, pid int) {
	if old := r.entries[h].pid; old != 0 {
		delete(r.byPID, old)
	}
	r.entries[h].pid = pid
	if pid != 0 {
		r.byPID[pid] = h
	}
}

// ClearPID drops h's pid association, called once its child has been
// reaped.
func (r *Repository) ClearPID(h Handle) {
	r.SetPID(h, 0)
}
