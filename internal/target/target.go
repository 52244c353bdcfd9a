// Package target implements named targets: directories of symlinks to
// service configuration files, the grouping tinit starts, stops or
// switches between as a unit. It is grounded on target.c, generalized
// from manually walked C strings and realpath(3) prefix checks into
// filepath.EvalSymlinks plus a Go string prefix test.
package target

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tuxdude/zzzlogi"

	"github.com/tuxdude/tinit/internal/repo"
	"github.com/tuxdude/tinit/internal/service"
)

// Sigchan is the subset of internal/sigchan's Channel a
// TargetController needs: arming RUNNING mode when the boot target
// starts, and telling the channel how many services it must watch drain
// before a shutdown can complete.
type Sigchan interface {
	EnterRunning() error
	EnterDraining(count int)
}

// Controller starts, stops and switches between named targets.
type Controller struct {
	log         zzzlogi.Logger
	repo        *repo.Repository
	manager     *service.Manager
	targetsDir  string
	servicesDir string
	sigchan     Sigchan
}

// New builds a Controller. Targets live under targetsDir, one
// subdirectory per target name with one symlink per member service;
// every symlink must resolve under servicesDir, the directory
// internal/config.Load read descriptors from.
func New(log zzzlogi.Logger, r *repo.Repository, m *service.Manager, targetsDir, servicesDir string, sc Sigchan) *Controller {
	return &Controller{log: log, repo: r, manager: m, targetsDir: targetsDir, servicesDir: servicesDir, sigchan: sc}
}

// resolve walks the target's directory and returns the Repository
// Handles of every member, following the same realpath-under-services-dir
// validation as tinit_target_probe_folder_svc_base: a symlink resolving
// outside servicesDir, or to a name the Repository doesn't know, is
// warned about and skipped rather than aborting the whole walk.
func (c *Controller) resolve(name string) ([]repo.Handle, error) {
	dir := filepath.Join(c.targetsDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("target: open %s: %w", dir, err)
	}

	servicesDir, err := filepath.EvalSymlinks(c.servicesDir)
	if err != nil {
		servicesDir = c.servicesDir
	}

	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	var handles []repo.Handle
	for _, name := range names {
		link := filepath.Join(dir, name)
		info, err := os.Lstat(link)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		resolved, err := filepath.EvalSymlinks(link)
		if err != nil {
			c.log.Warnf("%s: invalid target service link: %v", link, err)
			continue
		}
		if !strings.HasPrefix(resolved, servicesDir+string(filepath.Separator)) {
			c.log.Warnf("%s: resolves outside the services directory", link)
			continue
		}

		base := filepath.Base(resolved)
		h, err := c.repo.ByPath(base)
		if err != nil {
			c.log.Warnf("%s/%s: target service not found.", dir, name)
			continue
		}
		handles = append(handles, h)
	}

	if len(handles) == 0 {
		return nil, fmt.Errorf("target: %s: no target services found", name)
	}
	return handles, nil
}

// Start resolves name's members, arms the control channel's RUNNING
// dispatch mode, then starts every member. Used exactly once at boot
// for the kernel-cmdline-selected target.
func (c *Controller) Start(name string) error {
	handles, err := c.resolve(name)
	if err != nil {
		return err
	}

	if err := c.sigchan.EnterRunning(); err != nil {
		return err
	}

	for _, h := range handles {
		c.manager.Service(h).Start()
	}

	c.log.Debugf("%s: target started.", name)
	return nil
}

// Stop stops every currently active (non-Stopped) service in the
// Repository, regardless of target membership, and tells the control
// channel how many remain to be watched drain. Used for shutdown.
func (c *Controller) Stop() {
	cnt := 0
	for _, h := range c.repo.Handles() {
		svc := c.manager.Service(h)
		if svc.State() == service.Stopped {
			continue
		}
		if svc.State() == service.Starting || svc.State() == service.Ready {
			svc.Stop()
			if svc.State() == service.Stopped {
				continue
			}
		}
		cnt++
	}
	c.sigchan.EnterDraining(cnt)
}

// Switch diffs name's members against the full Repository: services not
// in the new target are stopped if active, services in the new target
// are started if stopped or stopping, and everything else is left
// untouched.
func (c *Controller) Switch(name string) error {
	handles, err := c.resolve(name)
	if err != nil {
		return err
	}

	members := make(map[repo.Handle]struct{}, len(handles))
	for _, h := range handles {
		members[h] = struct{}{}
	}

	for _, h := range c.repo.Handles() {
		svc := c.manager.Service(h)
		_, wanted := members[h]

		if !wanted {
			if svc.State() == service.Starting || svc.State() == service.Ready {
				svc.Stop()
			}
			continue
		}

		if svc.State() == service.Stopped || svc.State() == service.Stopping {
			svc.Start()
		}
	}

	c.log.Debugf("%s: target switched.", name)
	return nil
}
