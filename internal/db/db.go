package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dirName       = ".timeline"
	defaultDBName = "timeline.db"
)

type Config struct {
	Workspace string
	// Path overrides the default <workspace>/.timeline/timeline.db location.
	Path string
}

func dbPath(cfg Config) string {
	if cfg.Path != "" {
		if filepath.IsAbs(cfg.Path) {
			return cfg.Path
		}
		return filepath.Join(workspaceOrDot(cfg.Workspace), cfg.Path)
	}
	return filepath.Join(Dir(cfg.Workspace), defaultDBName)
}

func workspaceOrDot(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// Dir is the per-workspace state directory.
func Dir(workspace string) string {
	return filepath.Join(workspaceOrDot(workspace), dirName)
}

// EnsureWorkspace creates the state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := Dir(workspace)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database, creating its directory first.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(Config{Workspace: workspace})
}
