package install

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrMissing means the installation home does not exist.
	ErrMissing = errors.New("runtime not found")
	// ErrNotExecutable means the home exists but cannot be run.
	ErrNotExecutable = errors.New("runtime not executable")
)

// Check reports whether the installation's home is a runnable file on this
// host. It is advisory: homes on remote nodes are not visible locally.
func Check(inst Installation) error {
	if inst.Home == "" {
		return fmt.Errorf("%s: %w", inst.Name, ErrMissing)
	}
	info, err := os.Stat(inst.Home)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w: %s", inst.Name, ErrMissing, inst.Home)
		}
		return fmt.Errorf("%s: stat %q: %w", inst.Name, inst.Home, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s: %w: %s", inst.Name, ErrNotExecutable, inst.Home)
	}
	return nil
}

// Status is the one-word form of Check for listings.
func Status(inst Installation) string {
	switch err := Check(inst); {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissing):
		return "missing"
	case errors.Is(err, ErrNotExecutable):
		return "not executable"
	default:
		return "unknown"
	}
}
