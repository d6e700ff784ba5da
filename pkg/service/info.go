package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
)

// Info identifies the machine this server instance runs on. It is served
// on the info endpoint and used to resolve the "!local" hostname sentinel
// on bucket creation.
type Info struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	DeviceID string `json:"device_id"`
}

// ResolveInfo gathers host identity. The device id is a generated UUID
// persisted under dataDir, so it stays stable across restarts on the same
// installation.
func ResolveInfo(dataDir, version string) (Info, error) {
	hostname := localHostname()
	deviceID, err := loadOrCreateDeviceID(dataDir)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Hostname: hostname,
		Version:  version,
		DeviceID: deviceID,
	}, nil
}

func localHostname() string {
	if hi, err := host.Info(); err == nil && hi.Hostname != "" {
		return hi.Hostname
	}
	if hn, err := os.Hostname(); err == nil {
		return hn
	}
	return "unknown"
}

func loadOrCreateDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "device_id")
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
