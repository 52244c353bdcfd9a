package repo

import "errors"

// Sentinel errors returned by Repository and ObserverGraph, matching the
// negative errno returns of repo.c and notif.c.
var (
	// ErrNotFound is returned when a lookup by name, origin path or pid
	// matches nothing, mirroring tinit_repo_search_* returning NULL.
	ErrNotFound = errors.New("repo: not found")
	// ErrDuplicateName is returned when two descriptors share a name.
	ErrDuplicateName = errors.New("repo: duplicate service name")
	// ErrCycleDetected is returned by RegisterStartOn/RegisterStopOn when
	// adding the requested edge would close a notifier cycle, mirroring
	// svc_has_starton_notifier/svc_has_stopon_notifier rejecting the
	// registration before it is made.
	ErrCycleDetected = errors.New("repo: notifier cycle detected")
)
