package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// artifactPrefix names the per-instance store directories.
const artifactPrefix = "session-"

// legacyArtifacts are flat store files older layouts left directly in the
// base directory.
var legacyArtifacts = []string{"whatsapp.db", "whatsapp.db-shm", "whatsapp.db-wal"}

// CleanupArtifacts deletes every known session artifact under baseDir:
// all session-* directories plus legacy store files. Destructive and
// idempotent; a missing base directory is not an error.
func CleanupArtifacts(baseDir string) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), artifactPrefix) {
			if err := os.RemoveAll(filepath.Join(baseDir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, name := range legacyArtifacts {
		if err := os.Remove(filepath.Join(baseDir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewArtifactDir creates a fresh uniquely-named store directory for one
// client instance.
func NewArtifactDir(baseDir string) (string, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", err
	}
	dir := filepath.Join(baseDir, artifactPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
