package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"text/template"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

// The monitor plays the activity-monitor role, so launchd must restart it
// whenever it dies: KeepAlive is unconditional in both modes.
const monitorPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>monitor</string>
        <string>--data-dir</string>
        <string>{{.DataDir}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.LogPath}}</string>
{{- if .Background}}

    <key>ProcessType</key>
    <string>Background</string>
{{- end}}

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	DataDir        string
	LogPath        string
	Background     bool
}

// LaunchdManagerImpl implements domain.LaunchAgentManager for both modes.
type LaunchdManagerImpl struct {
	mode      ExecMode
	plistDir  string
	plistPath string
	dataDir   string
	logPath   string
	launchctl func(args ...string) error
}

// NewLaunchdManager creates a launchd manager for the monitor daemon.
func NewLaunchdManager(config *ExecModeConfig) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		mode:      config.Mode,
		plistDir:  config.PlistDir,
		plistPath: config.PlistPath,
		dataDir:   config.DataDir,
		logPath:   config.LogPath,
		launchctl: func(args ...string) error {
			return exec.Command("launchctl", args...).Run()
		},
	}
}

func (m *LaunchdManagerImpl) generatePlistContent(execPath string) ([]byte, error) {
	tmpl, err := template.New("plist").Parse(monitorPlistTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		DataDir:        m.dataDir,
		LogPath:        m.logPath,
		Background:     m.mode == ExecModeUser,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes and loads the plist.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	if err := m.writePlist(execPath); err != nil {
		return err
	}
	return m.launchctl("load", m.plistPath)
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	_ = m.launchctl("unload", m.plistPath)
	return os.Remove(m.plistPath)
}

// IsInstalled checks if the plist is installed.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether an installed plist differs from what execPath needs.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update rewrites the plist and reloads it.
func (m *LaunchdManagerImpl) Update(execPath string) error {
	_ = m.launchctl("unload", m.plistPath)
	if err := m.writePlist(execPath); err != nil {
		return err
	}
	return m.launchctl("load", m.plistPath)
}

func (m *LaunchdManagerImpl) writePlist(execPath string) error {
	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	return os.WriteFile(m.plistPath, content, 0644)
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// GetMode returns the execution mode.
func (m *LaunchdManagerImpl) GetMode() ExecMode {
	return m.mode
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
