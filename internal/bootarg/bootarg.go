// Package bootarg parses the kernel command line arguments tinit cares
// about, grounded on init.c's tinit_parse_cmdln/tinit_parse_arg and its
// table of per-keyword parsers.
package bootarg

import (
	"fmt"
	"strings"

	"github.com/tuxdude/tinit/internal/logging"
)

// ArgMax mirrors TINIT_ARG_MAX: an absurdly long argument is a malformed
// one, not a reason to allocate without bound.
const ArgMax = 1024

// Options is what tinit_parse_cmdln accumulates across every recognized
// "keyword=value" argument: a logging threshold for each of the two
// destinations init.c's log.c multiplexes between, and which target to
// boot into.
type Options struct {
	StdLog logging.Priority
	MQLog  logging.Priority
	Target string
}

// Default matches tinit_boot_target's static initializer and log.c's
// default thresholds before any command line argument overrides them.
func Default() Options {
	return Options{
		StdLog: logging.Info,
		MQLog:  logging.Info,
		Target: "current",
	}
}

// Parse walks argv (as received by a PID 1 process, so argv[0] is the
// program name and is skipped) applying every recognized keyword=value
// argument on top of Default(), the Go counterpart of
// tinit_parse_cmdln. An argument with no recognized keyword, a
// malformed "key=value" split, or an invalid value is warned about via
// log and otherwise ignored, never fatal: a bad boot argument must not
// stop PID 1 from coming up.
func Parse(log interface {
	Warnf(string, ...interface{})
}, argv []string) Options {
	opts := Default()
	for _, arg := range argv[1:] {
		parseArg(log, &opts, arg)
	}
	return opts
}

func parseArg(log interface{ Warnf(string, ...interface{}) }, opts *Options, arg string) {
	if len(arg) == 0 || len(arg) >= ArgMax {
		log.Warnf("bootarg: invalid argument.")
		return
	}

	key, val, ok := strings.Cut(arg, "=")
	if !ok || key == "" || val == "" {
		log.Warnf("bootarg: invalid %q argument.", arg)
		return
	}

	switch key {
	case "stdlog":
		if p, ok := logging.ParsePriority(val); ok {
			opts.StdLog = p
		} else {
			log.Warnf("bootarg: invalid stdlog severity %q.", val)
		}
	case "mqlog":
		if p, ok := logging.ParsePriority(val); ok {
			opts.MQLog = p
		} else {
			log.Warnf("bootarg: invalid mqlog severity %q.", val)
		}
	case "target":
		if err := validTargetName(val); err != nil {
			log.Warnf("bootarg: invalid target argument: %v.", err)
			return
		}
		opts.Target = val
	default:
		log.Warnf("bootarg: invalid %q argument.", arg)
	}
}

// validTargetName is tinit_check_svc_name applied to the target=
// argument: no path separators or glob metacharacters, since a target
// name becomes a directory component under the targets directory.
func validTargetName(name string) error {
	for _, r := range name {
		switch r {
		case '/', '*', '?', '[', ']', '!', '@', '+', '(', ')', '\\':
			return fmt.Errorf("disallowed character %q", r)
		}
	}
	return nil
}
