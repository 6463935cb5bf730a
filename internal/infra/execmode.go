package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents where the monitor daemon is installed.
type ExecMode string

const (
	// ExecModeUser runs the monitor as a LaunchAgent of the logged-in user.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs the monitor as a root LaunchDaemon.
	ExecModeSystem ExecMode = "system"
)

// LaunchdLabel is the launchd label of the monitor daemon.
const LaunchdLabel = "com.focusd.appblock.monitor"

const binaryName = "appblock"

// ExecModeConfig holds paths derived from the execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	BinaryPath string // Where the binary is installed
	PlistDir   string // Where the plist file goes
	PlistPath  string // Full path to plist file
	DataDir    string // Shared state, key, config and logs
	LogPath    string // Monitor daemon log file
	IsRoot     bool
}

// DetectExecMode determines the execution mode from the effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return systemModeConfig()
	}
	home, _ := os.UserHomeDir()
	return userModeConfig(home, false)
}

// GetUserModeConfig returns user mode paths regardless of the current euid.
// Under sudo the invoking user's home is used.
func GetUserModeConfig() *ExecModeConfig {
	return userModeConfig(GetRealUserHome(), os.Geteuid() == 0)
}

// ForDataDir returns the detected config with every data path moved under dir.
func ForDataDir(dir string) *ExecModeConfig {
	cfg := DetectExecMode()
	if dir == "" {
		return cfg
	}
	cfg.DataDir = dir
	cfg.LogPath = filepath.Join(dir, binaryName+".log")
	return cfg
}

func systemModeConfig() *ExecModeConfig {
	dataDir := "/var/lib/appblock"
	return &ExecModeConfig{
		Mode:       ExecModeSystem,
		BinaryPath: filepath.Join("/usr/local/bin", binaryName),
		PlistDir:   "/Library/LaunchDaemons",
		PlistPath:  filepath.Join("/Library/LaunchDaemons", LaunchdLabel+".plist"),
		DataDir:    dataDir,
		LogPath:    filepath.Join(dataDir, binaryName+".log"),
		IsRoot:     true,
	}
}

func userModeConfig(home string, isRoot bool) *ExecModeConfig {
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	dataDir := filepath.Join(home, ".appblock")
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		BinaryPath: filepath.Join(home, ".local", "bin", binaryName),
		PlistDir:   plistDir,
		PlistPath:  filepath.Join(plistDir, LaunchdLabel+".plist"),
		DataDir:    dataDir,
		LogPath:    filepath.Join(dataDir, binaryName+".log"),
		IsRoot:     isRoot,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (LaunchDaemon, root)"
	case ExecModeUser:
		return "user (LaunchAgent, non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
