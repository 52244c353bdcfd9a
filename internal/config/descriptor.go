// Package config loads and validates service descriptors — the immutable,
// parsed configuration for one service. Parsing itself is treated as an
// external collaborator to the core supervisor (internal/service,
// internal/repo): this package's only contract with the rest of the tree
// is the Service type below.
package config

import (
	"fmt"
	"regexp"
	"unicode"

	"golang.org/x/sys/unix"
)

const (
	// NameMax is the maximum length of a service name, in bytes.
	NameMax = 31
	// ArgMax is the maximum length of a single argv element or
	// environment value, in bytes.
	ArgMax = 1023
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._@-]*[A-Za-z0-9])?$`)
var envNameRe = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Service is the immutable descriptor for one service, produced by Load
// and read-only for the lifetime of the owning service.Service.
type Service struct {
	// Name is the unique identifier for this service, also the base
	// name of its defining file.
	Name string
	// Path is the origin file name (not the full path), used by
	// Repository.ByPath and by target symlink resolution.
	Path string
	// Description is an optional human-readable summary.
	Description string
	// Stdin, if set, is a path under /dev/ to redirect fd 0 to.
	Stdin string
	// Stdout, if set, is a path to redirect fd 1 (and fd 2) to.
	Stdout string
	// Env holds additional NAME=value environment entries merged into
	// the spawned children's environment.
	Env []string
	// StartCmds is the ordered start command sequence.
	StartCmds [][]string
	// Daemon is the resident process argv launched once StartCmds
	// completes, or nil if this service has no resident daemon.
	Daemon []string
	// StopCmds is the ordered stop command sequence.
	StopCmds [][]string
	// StopSignal is sent to the child when stopping. Defaults to
	// SIGTERM.
	StopSignal unix.Signal
	// ReloadSignal is sent to the child on reload(). Defaults to
	// SIGTERM.
	ReloadSignal unix.Signal
	// StartOn lists service names whose READY transition unblocks this
	// service's start sequence.
	StartOn []string
	// StopOn lists service names whose STOPPED transition unblocks this
	// service's stop sequence.
	StopOn []string
}

// Validate checks the invariants spec.md §3 and §6 place on a descriptor:
// name charset/length, absence of duplicate/self starton-stopon entries,
// printable argv bytes, environment value length, and the "at least one
// of start/stop/daemon" rule.
func (s *Service) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return fmt.Errorf("%s: invalid service name: %w", s.Name, err)
	}

	if len(s.StartCmds) == 0 && len(s.StopCmds) == 0 && s.Daemon == nil {
		return fmt.Errorf("%s: must define at least one of start, stop or daemon", s.Name)
	}

	if s.Stdin != "" && !hasPrefix(s.Stdin, "/dev/") {
		return fmt.Errorf("%s: stdin path %q must be under /dev/", s.Name, s.Stdin)
	}

	for _, kv := range s.Env {
		if err := validateEnvEntry(kv); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}

	for _, argv := range s.StartCmds {
		if err := validateArgv(argv); err != nil {
			return fmt.Errorf("%s: start command: %w", s.Name, err)
		}
	}
	for _, argv := range s.StopCmds {
		if err := validateArgv(argv); err != nil {
			return fmt.Errorf("%s: stop command: %w", s.Name, err)
		}
	}
	if s.Daemon != nil {
		if err := validateArgv(s.Daemon); err != nil {
			return fmt.Errorf("%s: daemon command: %w", s.Name, err)
		}
	}

	if err := validateDepList(s.Name, "starton", s.StartOn); err != nil {
		return err
	}
	if err := validateDepList(s.Name, "stopon", s.StopOn); err != nil {
		return err
	}

	if s.StopSignal == 0 {
		s.StopSignal = unix.SIGTERM
	}
	if s.ReloadSignal == 0 {
		s.ReloadSignal = unix.SIGTERM
	}

	return nil
}

// ValidateName checks a service (or target) name against spec.md §3's
// charset and length rule: 1-31 chars,
// [A-Za-z0-9][A-Za-z0-9._@-]*[A-Za-z0-9].
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("empty name")
	}
	if len(name) > NameMax {
		return fmt.Errorf("name longer than %d characters", NameMax)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("name %q contains invalid characters", name)
	}
	return nil
}

func validateDepList(owner, field string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == owner {
			return fmt.Errorf("%s: %s must not reference itself", owner, field)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%s: %s contains duplicate entry %q", owner, field, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

func validateEnvEntry(kv string) error {
	name, value, ok := splitEnv(kv)
	if !ok {
		return fmt.Errorf("malformed environment entry %q", kv)
	}
	if !envNameRe.MatchString(name) {
		return fmt.Errorf("environment name %q must match [A-Z_][A-Z0-9_]*", name)
	}
	if len(value) > ArgMax {
		return fmt.Errorf("environment value for %q exceeds %d bytes", name, ArgMax)
	}
	if !isPrintable(value) {
		return fmt.Errorf("environment value for %q contains a non-printable byte", name)
	}
	return nil
}

func validateArgv(argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return fmt.Errorf("empty argument vector")
	}
	for _, arg := range argv {
		if len(arg) > ArgMax {
			return fmt.Errorf("argument %q exceeds %d bytes", arg, ArgMax)
		}
		if !isPrintable(arg) {
			return fmt.Errorf("argument %q contains a non-printable byte", arg)
		}
	}
	return nil
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r == '\t' || r == ' ' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func splitEnv(kv string) (name, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
