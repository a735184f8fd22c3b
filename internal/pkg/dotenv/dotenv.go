// Package dotenv loads KEY=VALUE files into the process environment.
package dotenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/subosito/gotenv"
)

// PathsEnv names the variable holding a comma-separated list of files to load instead of ".env".
const PathsEnv = "DOTENV_PATHS"

// Load applies every existing file in paths; variables already present in the environment win.
// Missing files are skipped.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = defaultPaths()
	}

	var errs []error
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := gotenv.Load(path); err != nil {
			errs = append(errs, fmt.Errorf("dotenv %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func defaultPaths() []string {
	raw := strings.TrimSpace(os.Getenv(PathsEnv))
	if raw == "" {
		return []string{".env"}
	}
	var paths []string
	for _, path := range strings.Split(raw, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}
