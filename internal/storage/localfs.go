package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SQLite file locking is unreliable on these.
var remoteFilesystems = map[string]bool{
	"nfs":   true,
	"cifs":  true,
	"smbfs": true,
	"smb2":  true,
}

// checkLocalFilesystem rejects database paths on network mounts. detect
// returns "" when the platform cannot tell, which is accepted.
func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("state.path %q is on %s; SQLite needs a local filesystem", path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}
