package service

import "errors"

// Sentinel errors surfaced by Service and Launcher, mapped from the
// negative errno returns of svc.c's svc_spawn/svc_kill.
var (
	// ErrSpawnFailed is returned by a Launcher when fork/exec itself
	// could not be started, mirroring svc_spawn's vfork() failure path.
	ErrSpawnFailed = errors.New("service: spawn failed")
	// ErrNoChild is returned by a Launcher's Signal when the target
	// service has no running child, mirroring svc_kill's child <= 0
	// check.
	ErrNoChild = errors.New("service: no running child")
	// ErrProcessGone is returned by a Launcher's Signal when the target
	// pid no longer exists, mirroring svc_kill's ESRCH.
	ErrProcessGone = errors.New("service: process already gone")
)
