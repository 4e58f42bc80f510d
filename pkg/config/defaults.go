package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultsInstaller writes the embedded config into the config dir on first run.
type defaultsInstaller struct {
	embedFS embed.FS
}

// newDefaultsInstaller creates a new defaultsInstaller with the given embedded filesystem.
func newDefaultsInstaller(embedFS embed.FS) *defaultsInstaller {
	return &defaultsInstaller{embedFS: embedFS}
}

// Install creates the config directory and a commented-out copy of the embedded config
// if no config file exists. an existing file is never touched.
// the installed copy only documents the keys, so embedded defaults keep applying until the user uncomments one.
func (d *defaultsInstaller) Install(configDir string) error {
	// create config directory (0700 - user only)
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, "config")
	_, statErr := os.Stat(configPath)
	if statErr == nil {
		return nil
	}
	if !os.IsNotExist(statErr) {
		return fmt.Errorf("check config file: %w", statErr)
	}

	data, err := d.embedFS.ReadFile("defaults/config")
	if err != nil {
		return fmt.Errorf("read embedded config: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(commentOut(string(data))), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// commentOut prefixes every key line with "# ", leaving comments and blank lines as is.
func commentOut(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := make([]string, 0, strings.Count(content, "\n")+1)
	for line := range strings.SplitSeq(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			lines = append(lines, line)
			continue
		}
		lines = append(lines, "# "+line)
	}
	return strings.Join(lines, "\n")
}
