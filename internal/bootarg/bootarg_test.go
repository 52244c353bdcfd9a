package bootarg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuxdude/tinit/internal/bootarg"
	"github.com/tuxdude/tinit/internal/logging"
)

type recordingLogger struct{ warnings []string }

func (r *recordingLogger) Warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, format)
}

func TestParseAppliesRecognizedArguments(t *testing.T) {
	log := &recordingLogger{}
	opts := bootarg.Parse(log, []string{"tinit", "stdlog=debug", "mqlog=err", "target=rescue"})

	require.Equal(t, logging.Debug, opts.StdLog)
	require.Equal(t, logging.Err, opts.MQLog)
	require.Equal(t, "rescue", opts.Target)
	require.Empty(t, log.warnings)
}

func TestParseKeepsDefaultsOnMalformedArguments(t *testing.T) {
	log := &recordingLogger{}
	opts := bootarg.Parse(log, []string{"tinit", "nonsense", "stdlog=", "=value", "unknown=1"})

	require.Equal(t, bootarg.Default(), opts)
	require.Len(t, log.warnings, 4)
}

func TestParseRejectsInvalidSeverity(t *testing.T) {
	log := &recordingLogger{}
	opts := bootarg.Parse(log, []string{"tinit", "stdlog=verbose"})

	require.Equal(t, logging.Info, opts.StdLog)
	require.Len(t, log.warnings, 1)
}

func TestParseRejectsTargetWithPathSeparator(t *testing.T) {
	log := &recordingLogger{}
	opts := bootarg.Parse(log, []string{"tinit", "target=../etc"})

	require.Equal(t, "current", opts.Target)
	require.Len(t, log.warnings, 1)
}

func TestParseIgnoresArgv0(t *testing.T) {
	log := &recordingLogger{}
	opts := bootarg.Parse(log, []string{"target=ignored"})

	require.Equal(t, "current", opts.Target)
	require.Empty(t, log.warnings)
}
