package db

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one NNN_name.sql file from the migration source.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies SQL files to a single schema. Runs against the same
// schema are serialized with an advisory lock so concurrently starting
// replicas do not race.
type Migrator struct {
	pool   *pgxpool.Pool
	source fs.FS
}

// NewMigrator reads *.sql files from the root of source, usually the
// embedded migrations or os.DirFS of an override directory.
func NewMigrator(pool *pgxpool.Pool, source fs.FS) *Migrator {
	return &Migrator{pool: pool, source: source}
}

// parseVersion extracts the numeric prefix of "001_intake_draft.sql".
func parseVersion(name string) (int, bool) {
	if path.Ext(name) != ".sql" {
		return 0, false
	}
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// LoadMigrations returns the source's migrations ordered by version. Files
// without a numeric prefix are ignored; a repeated version is an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	if m.source == nil {
		return nil, fmt.Errorf("no migration source configured")
	}
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, ok := parseVersion(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		byVersion[version] = entry.Name()

		body, err := fs.ReadFile(m.source, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: entry.Name(), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func lockKey(schema string) int64 {
	h := fnv.New64a()
	h.Write([]byte("migrate:" + schema))
	return int64(h.Sum64())
}

// withSchema runs fn on a dedicated connection that holds the schema's
// migration lock, with the schema and its _migrations table in place.
func (m *Migrator) withSchema(ctx context.Context, schema string, fn func(conn *pgxpool.Conn) error) error {
	if m.pool == nil {
		return fmt.Errorf("migrator has no database pool")
	}
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	key := lockKey(schema)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("lock %s: %w", schema, err)
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)

	ident := pgx.Identifier{schema}.Sanitize()
	setup := []string{
		"CREATE SCHEMA IF NOT EXISTS " + ident,
		fmt.Sprintf("SET search_path TO %s, public", ident),
		`CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
	for _, stmt := range setup {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("prepare %s: %w", schema, err)
		}
	}
	return fn(conn)
}

func applied(ctx context.Context, conn *pgxpool.Conn) (map[int]time.Time, error) {
	rows, err := conn.Query(ctx, "SELECT version, applied_at FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("query _migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Up applies pending migrations in order, each in its own transaction, and
// returns how many ran.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	count := 0
	err = m.withSchema(ctx, schema, func(conn *pgxpool.Conn) error {
		done, err := applied(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if _, ok := done[mig.Version]; ok {
				continue
			}
			if err := apply(ctx, conn, mig); err != nil {
				return fmt.Errorf("migration %s: %w", mig.Name, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

func apply(ctx context.Context, conn *pgxpool.Conn, mig Migration) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO _migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
		return err
	})
}

// Status lists every known migration and when it was applied to schema.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	var out []MigrationStatus
	err = m.withSchema(ctx, schema, func(conn *pgxpool.Conn) error {
		done, err := applied(ctx, conn)
		if err != nil {
			return err
		}
		out = statusOf(migrations, done)
		return nil
	})
	return out, err
}

func statusOf(migrations []Migration, done map[int]time.Time) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out
}
