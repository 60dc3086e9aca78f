package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
	"github.com/JonMunkholm/wis2box-migrate/internal/logging"
)

// Run resolves the migration registered for version and executes it.
//
// An unregistered version fails with failure.UnknownVersion before any file
// or store is accessed. Nothing checks whether migrations run in order or
// have already been applied; re-applying a codelist migration is a no-op.
func Run(ctx context.Context, version string, dryRun bool, env *Env) error {
	m, err := Resolve(version)
	if err != nil {
		return err
	}
	if env == nil {
		return errors.New("run: nil environment")
	}

	logger := logging.WithFields(ctx, "version", m.Version(), "dry_run", dryRun)
	logger.Info("migration started", "description", m.Description())
	start := time.Now()

	if err := m.Migrate(ctx, env, dryRun); err != nil {
		logger.Error("migration failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("migrate %s: %w", m.Version(), err)
	}

	logger.Info("migration completed", "duration", time.Since(start))
	return nil
}

// Resolve returns the migration registered for version, or a
// failure.UnknownVersion error listing the known versions.
func Resolve(version string) (Migration, error) {
	m, ok := Lookup(version)
	if !ok {
		return nil, failure.Newf(failure.UnknownVersion, version,
			"no migration registered (known: %s)", strings.Join(Versions(), ", "))
	}
	return m, nil
}

// CodelistMigration rewrites codelist values in the station file and the
// station collection. It loads its tables once, then runs the tabular pass
// and the store pass in that order. The two passes share no transaction:
// a store failure leaves the new station file in place.
type CodelistMigration struct {
	Target    string   // version, e.g. "v1.0b7"
	Summary   string   // one-line description
	Codelists []string // table names, each read from <name>.json
	Resources fs.FS    // where the tables live
}

// Version implements Migration.
func (m CodelistMigration) Version() string { return m.Target }

// Description implements Migration.
func (m CodelistMigration) Description() string { return m.Summary }

// Migrate implements Migration.
func (m CodelistMigration) Migrate(ctx context.Context, env *Env, dryRun bool) error {
	set, err := LoadCodelists(m.Resources, m.Codelists)
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx)
	for _, name := range set.Names() {
		logger.Debug("codelist loaded", "codelist", name, "entries", set.Len(name))
	}

	if _, err := MigrateTable(ctx, TableJob{
		Path:      env.StationFile,
		Version:   m.Target,
		Codelists: set,
		DryRun:    dryRun,
		Out:       env.Out,
	}); err != nil {
		return err
	}

	if env.Store == nil {
		return errors.New("no document store configured")
	}

	_, err = MigrateStore(ctx, StoreJob{
		Index:         env.Index,
		BatchSize:     env.BatchSize,
		Codelists:     set,
		DryRun:        dryRun,
		Out:           env.Out,
		Store:         env.Store,
		Checkpoints:   env.Checkpoints,
		CheckpointKey: NormalizeVersion(m.Target) + "/" + env.Index,
		Resume:        env.Resume,
	})
	return err
}
