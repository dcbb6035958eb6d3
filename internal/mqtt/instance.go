package mqtt

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// instanceFile holds the Home Assistant device identifier under the
// data directory.
const instanceFile = "instance_id"

// LoadOrCreateInstanceID returns the device identifier stored in
// dataDir, creating the directory and a fresh UUIDv7 on first run. The
// ID, not device_name, keys every sensor, so renaming the device keeps
// its history. A corrupt file is replaced.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw := strings.TrimSpace(string(data))
		if id, perr := uuid.Parse(raw); perr == nil {
			return id.String(), nil
		}
		slog.Warn("replacing unreadable mqtt instance ID", "path", path, "content", raw)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read instance ID: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	// Write then rename so a crash never leaves a half-written ID.
	tmp, err := os.CreateTemp(dataDir, instanceFile+".*")
	if err != nil {
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(id.String() + "\n"); err != nil {
		tmp.Close()
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("persist instance ID to %s: %w", path, err)
	}
	return id.String(), nil
}
