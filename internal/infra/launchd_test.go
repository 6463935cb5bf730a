package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLaunchd(t *testing.T, mode ExecMode) (*LaunchdManagerImpl, *[][]string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &ExecModeConfig{
		Mode:      mode,
		PlistDir:  filepath.Join(dir, "LaunchAgents"),
		PlistPath: filepath.Join(dir, "LaunchAgents", LaunchdLabel+".plist"),
		DataDir:   filepath.Join(dir, "data"),
		LogPath:   filepath.Join(dir, "data", "appblock.log"),
	}
	m := NewLaunchdManager(cfg)
	var calls [][]string
	m.launchctl = func(args ...string) error {
		calls = append(calls, args)
		return nil
	}
	return m, &calls
}

func TestLaunchdManager_Install(t *testing.T) {
	m, calls := newTestLaunchd(t, ExecModeUser)

	require.NoError(t, m.Install("/usr/local/bin/appblock"))

	assert.True(t, m.IsInstalled())
	content, err := os.ReadFile(m.GetPlistPath())
	require.NoError(t, err)
	assert.Contains(t, string(content), "<string>monitor</string>")
	assert.Contains(t, string(content), "<string>"+LaunchdLabel+"</string>")
	assert.Contains(t, string(content), "ProcessType")
	assert.Equal(t, [][]string{{"load", m.GetPlistPath()}}, *calls)
}

func TestLaunchdManager_SystemModeHasNoProcessType(t *testing.T) {
	m, _ := newTestLaunchd(t, ExecModeSystem)

	content, err := m.generatePlistContent("/usr/local/bin/appblock")
	require.NoError(t, err)
	assert.NotContains(t, string(content), "ProcessType")
	assert.Equal(t, ExecModeSystem, m.GetMode())
}

func TestLaunchdManager_NeedsUpdate(t *testing.T) {
	tests := []struct {
		name      string
		install   bool
		checkPath string
		want      bool
	}{
		{name: "not installed", install: false, checkPath: "/a/appblock", want: false},
		{name: "same binary", install: true, checkPath: "/a/appblock", want: false},
		{name: "moved binary", install: true, checkPath: "/b/appblock", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestLaunchd(t, ExecModeUser)
			if tt.install {
				require.NoError(t, m.Install("/a/appblock"))
			}
			assert.Equal(t, tt.want, m.NeedsUpdate(tt.checkPath))
		})
	}
}

func TestLaunchdManager_UpdateAndUninstall(t *testing.T) {
	m, calls := newTestLaunchd(t, ExecModeUser)
	require.NoError(t, m.Install("/a/appblock"))

	require.NoError(t, m.Update("/b/appblock"))
	assert.False(t, m.NeedsUpdate("/b/appblock"))

	require.NoError(t, m.Uninstall())
	assert.False(t, m.IsInstalled())
	assert.Equal(t, []string{"unload", m.GetPlistPath()}, (*calls)[len(*calls)-1])
}
