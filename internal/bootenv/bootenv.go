// Package bootenv resets the process environment PID 1 inherits from
// the kernel to the fixed, minimal set tinit itself depends on,
// grounded on init.c's init_environ.
package bootenv

import (
	"fmt"
	"os"
)

// Default values for the variables init_environ seeds after clearing
// the environment. PATH and TERM are compile-time configuration in the
// original (CONFIG_TINIT_ENVIRON_PATH/CONFIG_TINIT_ENVIRON_TERM); here
// they are fixed constants that Reset always applies.
const (
	DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	DefaultTerm = "linux"
)

// Reset clears the entire environment and reseeds it with HOME, PATH
// and TERM, the same three variables init_environ sets after
// clearenv(). Every spawned service inherits from this baseline plus
// whatever Environ overrides its own descriptor adds, the same
// layering internal/service.OSLauncher.Spawn applies with os.Environ().
func Reset() error {
	for _, kv := range os.Environ() {
		key, _, _ := cutEnv(kv)
		if err := os.Unsetenv(key); err != nil {
			return fmt.Errorf("bootenv: clear %s: %w", key, err)
		}
	}

	env := map[string]string{
		"HOME": "/",
		"PATH": DefaultPath,
		"TERM": DefaultTerm,
	}
	for key, val := range env {
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("bootenv: set %s: %w", key, err)
		}
	}

	return nil
}

func cutEnv(kv string) (key, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}
