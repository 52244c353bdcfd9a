package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/sys/unix"
)

// rawService mirrors the key table in spec.md §6, decoded from one YAML
// fragment by koanf the way velmie-x/svc/confload decodes a fragment into
// a typed struct via file.Provider + yaml.Parser + koanf.Unmarshal.
type rawService struct {
	Name        string            `koanf:"name"`
	Description string            `koanf:"description"`
	Stdin       string            `koanf:"stdin"`
	Stdout      string            `koanf:"stdout"`
	Environ     map[string]string `koanf:"environ"`
	StartOn     []string          `koanf:"starton"`
	Start       [][]string        `koanf:"start"`
	StopOn      []string          `koanf:"stopon"`
	Stop        [][]string        `koanf:"stop"`
	Daemon      []string          `koanf:"daemon"`
	Signal      struct {
		Stop   string `koanf:"stop"`
		Reload string `koanf:"reload"`
	} `koanf:"signal"`
}

// Load walks dir for *.yaml service fragments and returns one validated
// Service per file, sorted by file name for deterministic Repository
// insertion order. A fragment that fails to parse or validate is skipped
// with a warning returned alongside the services that did load
// successfully, matching the original's "a configuration with missing or
// broken entries still runs" policy (spec.md §7).
func Load(dir string) ([]*Service, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("open service directory %s: %w", dir, err)}
	}

	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if ext := filepath.Ext(ent.Name()); ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	var (
		svcs  []*Service
		warns []error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		svc, err := loadOne(path)
		if err != nil {
			warns = append(warns, fmt.Errorf("%s: %w", name, err))
			continue
		}
		svc.Path = name
		if err := svc.Validate(); err != nil {
			warns = append(warns, err)
			continue
		}
		svcs = append(svcs, svc)
	}

	return svcs, warns
}

func loadOne(path string) (*Service, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	var raw rawService
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	svc := &Service{
		Name:        raw.Name,
		Description: raw.Description,
		Stdin:       raw.Stdin,
		Stdout:      raw.Stdout,
		StartCmds:   raw.Start,
		StopCmds:    raw.Stop,
		StartOn:     raw.StartOn,
		StopOn:      raw.StopOn,
	}
	if len(raw.Daemon) > 0 {
		svc.Daemon = raw.Daemon
	}

	for name, value := range raw.Environ {
		svc.Env = append(svc.Env, name+"="+value)
	}
	sort.Strings(svc.Env)

	if raw.Signal.Stop != "" {
		sig, err := parseSignal(raw.Signal.Stop)
		if err != nil {
			return nil, fmt.Errorf("signal.stop: %w", err)
		}
		svc.StopSignal = sig
	}
	if raw.Signal.Reload != "" {
		sig, err := parseSignal(raw.Signal.Reload)
		if err != nil {
			return nil, fmt.Errorf("signal.reload: %w", err)
		}
		svc.ReloadSignal = sig
	}

	return svc, nil
}

var signalNames = map[string]unix.Signal{
	"SIGHUP":  unix.SIGHUP,
	"SIGINT":  unix.SIGINT,
	"SIGQUIT": unix.SIGQUIT,
	"SIGUSR1": unix.SIGUSR1,
	"SIGUSR2": unix.SIGUSR2,
	"SIGTERM": unix.SIGTERM,
	"SIGKILL": unix.SIGKILL,
	"SIGCONT": unix.SIGCONT,
	"SIGSTOP": unix.SIGSTOP,
}

func parseSignal(s string) (unix.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return unix.Signal(n), nil
	}
	if sig, ok := signalNames[strings.ToUpper(s)]; ok {
		return sig, nil
	}
	return 0, fmt.Errorf("unrecognized signal %q", s)
}
