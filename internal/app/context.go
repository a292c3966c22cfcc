package app

import (
	"database/sql"
	"fmt"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
)

// Env bundles the opened database and the wired engine for one workspace.
type Env struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// Open prepares a workspace: ensures the directory, opens the database,
// applies migrations, and loads the service config (defaults when no
// gigline.yml exists).
func Open(workspace string) (*Env, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Env{
		DB:     conn,
		Engine: engine.New(conn, cfg),
		Config: cfg,
	}, nil
}
