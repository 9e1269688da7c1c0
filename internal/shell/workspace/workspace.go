// Package workspace manages the on-disk deployment workspace: the directory
// of rendered compose files and the directory of timestamped backups taken
// before each deploy.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/shipwright/internal/core/spec"
)

// Workspace holds the compose and backup directories. All methods are safe
// for concurrent use; the filesystem is the only state.
type Workspace struct {
	composeDir string
	backupDir  string
	logger     *slog.Logger
}

// New creates a workspace rooted at the given directories.
func New(composeDir, backupDir string, logger *slog.Logger) *Workspace {
	return &Workspace{
		composeDir: composeDir,
		backupDir:  backupDir,
		logger:     logger.With("component", "workspace"),
	}
}

// ComposePath returns the path a project's compose file is written to.
func (w *Workspace) ComposePath(project string) string {
	return filepath.Join(w.composeDir, project+".yml")
}

// WriteComposeFile renders a plan and writes it to the workspace, returning
// the path written.
func (w *Workspace) WriteComposeFile(plan *spec.Plan) (string, error) {
	data, err := spec.MarshalCompose(plan)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(w.composeDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create compose directory: %w", err)
	}

	path := w.ComposePath(plan.Project)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write compose file %s: %w", path, err)
	}

	w.logger.Info("wrote compose file",
		"project", plan.Project,
		"path", path,
		"services", len(plan.Services))
	return path, nil
}

// ReadComposeFile loads and parses a compose file back into a plan.
func (w *Workspace) ReadComposeFile(path string) (*spec.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file %s: %w", path, err)
	}
	return spec.ParseCompose(data)
}

// BackupComposeFile copies a compose file into the backup directory under a
// timestamped name, returning the backup path.
func (w *Workspace) BackupComposeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read compose file %s: %w", path, err)
	}

	if err := os.MkdirAll(w.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := fmt.Sprintf("%s_backup_%s.yml", stem, time.Now().Format("20060102_150405"))
	backupPath := filepath.Join(w.backupDir, name)

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup file %s: %w", backupPath, err)
	}

	w.logger.Info("created backup", "source", path, "backup", backupPath)
	return backupPath, nil
}

// LatestBackup returns the most recently modified backup file, or
// spec.ErrNoBackup when the backup directory holds none.
func (w *Workspace) LatestBackup() (string, error) {
	matches, err := filepath.Glob(filepath.Join(w.backupDir, "*.yml"))
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}

	var newest string
	var newestTime time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = path
			newestTime = info.ModTime()
		}
	}

	if newest == "" {
		return "", spec.ErrNoBackup
	}
	return newest, nil
}
