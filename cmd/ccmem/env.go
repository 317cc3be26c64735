package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/seiyakubo/ccmem/internal/backup"
	"github.com/seiyakubo/ccmem/internal/cleanup"
	"github.com/seiyakubo/ccmem/internal/config"
	"github.com/seiyakubo/ccmem/internal/ingest"
	"github.com/seiyakubo/ccmem/internal/record"
	"github.com/seiyakubo/ccmem/internal/session"
	"github.com/seiyakubo/ccmem/internal/store"
)

// env bundles the per-invocation handles. Everything is opened fresh, used
// synchronously, and closed before exit; concurrent invocations serialize on
// the store's WAL busy timeout.
type env struct {
	cfg        *config.Config
	projectDir string
	db         *store.DB
	records    *record.Store
	backups    *backup.Store
	resolver   *session.Resolver
}

func openEnv(projectDir string) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	db, err := store.Open(cfg.DBPath(abs))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	records := record.NewStore(cfg.RecordsDir(abs))
	resolver := session.NewResolver(db, records, cfg.BreadcrumbsDir(abs))
	resolver.Staleness = time.Duration(cfg.BreadcrumbStalenessMinutes) * time.Minute

	return &env{
		cfg:        cfg,
		projectDir: abs,
		db:         db,
		records:    records,
		backups:    backup.NewStore(cfg.BackupsDir(abs)),
		resolver:   resolver,
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

func (e *env) ingester() *ingest.Ingester {
	return &ingest.Ingester{
		DB:       e.db,
		Backups:  e.backups,
		Resolver: e.resolver,
	}
}

func (e *env) cleaner() *cleanup.Cleaner {
	return &cleanup.Cleaner{
		DB:        e.db,
		Records:   e.records,
		Backups:   e.backups,
		Resolver:  e.resolver,
		Policy:    e.cfg.CleanupPolicy,
		GraceDays: e.cfg.GraceDays,
	}
}

// emit prints the structured result for the hook dispatcher and returns a
// non-nil error when the operation failed, so cobra exits 1.
func emit(result any, success bool, message string) error {
	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%s", message)
	}
	return nil
}
