package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateInstanceID reads the instance id from dataDir, creating
// and persisting a new UUIDv7 on first run. It keeps the MQTT client id
// unique per installation while staying stable across restarts.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "instance_id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance id: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance id to %s: %w", path, err)
	}
	return id.String(), nil
}

// ClientID combines the configured client id with the short form of
// the instance id.
func ClientID(base, instanceID string) string {
	short, _, _ := strings.Cut(instanceID, "-")
	if short == "" {
		return base
	}
	return base + "-" + short
}
