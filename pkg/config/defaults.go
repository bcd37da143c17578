package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// AppName names the configuration, data and state directories.
const AppName = "pvscan"

const (
	DefaultNamespace = "$(P)$(R)"
	DefaultBackend   = "file"
	DefaultFormat    = "yaml"
	DefaultEvaluator = "expr"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultName      = "default"
	DefaultAutosave  = time.Duration(0)
)

// DefaultMacros are the record prefixes used by the Prisma IOC at 2-BM.
func DefaultMacros() map[string]string {
	return map[string]string{"P": "pxm1:", "R": "TomoScan:"}
}

// ConfigDir is where config.yaml is looked up.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir holds saved snapshots.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// DefaultStatePath returns the default location for backend.
func DefaultStatePath(backend string) string {
	switch backend {
	case "badger":
		return filepath.Join(DataDir(), "badger")
	case "memory":
		return ""
	default:
		return filepath.Join(DataDir(), "snapshots")
	}
}
