package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(20260314)
	migrationOpLimit = 5 * time.Second
)

// Пустой checksum означает запись, сделанную до появления колонки; такие
// записи не сверяются.
var migrationTableDDL = []string{`
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`,
}

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

// ErrMigrationDrift: применённая миграция отличается от встроенной в бинарник.
var ErrMigrationDrift = errors.New("applied migration differs from embedded source")

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

func (m migration) label() string { return fmt.Sprintf("%04d_%s", m.Version, m.Name) }

// appliedMigration: строка schema_migrations.
type appliedMigration struct {
	Version  int64
	Checksum string
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, migrations []migration) error {
		applied, err := loadApplied(ctx, conn)
		if err != nil {
			return err
		}
		if drifted := detectDrift(migrations, applied); len(drifted) > 0 {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, strings.Join(drifted, ", "))
		}

		pending := lo.Filter(migrations, func(m migration, _ int) bool {
			_, ok := applied[m.Version]
			return !ok
		})
		if steps > 0 && steps < len(pending) {
			pending = pending[:steps]
		}
		for _, m := range pending {
			if err := applyOne(ctx, conn, m, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций; steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, migrations []migration) error {
		applied, err := loadApplied(ctx, conn)
		if err != nil {
			return err
		}

		byVersion := lo.KeyBy(migrations, func(m migration) int64 { return m.Version })
		versions := lo.Keys(applied)
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if steps < len(versions) {
			versions = versions[:steps]
		}

		for _, version := range versions {
			m, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			if err := applyOne(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationState: состояние схемы для `migrate -direction=status`.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
	// Drifted: применённые миграции, чей текст изменился после применения.
	Drifted []string
}

// MigrationStatus возвращает текущую версию, число применённых, ожидающие
// и изменённые после применения миграции.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, fmt.Errorf("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return MigrationState{}, err
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{
		Applied: len(applied),
		Drifted: detectDrift(migrations, applied),
	}
	for version := range applied {
		state.Version = max(state.Version, version)
	}
	for _, m := range migrations {
		if _, ok := applied[m.Version]; !ok {
			state.Pending = append(state.Pending, m.label())
		}
	}
	return state, nil
}

// withMigrationLock держит advisory lock на выделенном соединении, чтобы
// несколько экземпляров сервиса не мигрировали схему одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn, migrations []migration) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationOpLimit)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn, migrations)
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	for _, ddl := range migrationTableDDL {
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure migration table: %w", err)
		}
	}
	return nil
}

// applyOne выполняет тело миграции и запись в schema_migrations одной транзакцией.
func applyOne(ctx context.Context, conn *sql.Conn, m migration, up bool) (err error) {
	direction, body := "down", m.DownSQL
	if up {
		direction, body = "up", m.UpSQL
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", direction, m.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m.label(), err)
	}

	if up {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_at)
			VALUES ($1, $2, $3, NOW())
		`, m.Version, m.Name, m.Checksum)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m.label(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.label(), err)
	}

	log.WithFields(log.Fields{"version": m.Version, "name": m.Name, "direction": direction}).Info("migration applied")
	return nil
}

func loadApplied(ctx context.Context, conn *sql.Conn) (map[int64]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]appliedMigration)
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.Version, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		result[a.Version] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return result, nil
}

func detectDrift(migrations []migration, applied map[int64]appliedMigration) []string {
	var drifted []string
	for _, m := range migrations {
		a, ok := applied[m.Version]
		if ok && a.Checksum != "" && a.Checksum != m.Checksum {
			drifted = append(drifted, m.label())
		}
	}
	return drifted
}

func checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// loadMigrationsFromFS читает пары NNNN_name.up.sql / NNNN_name.down.sql
// и возвращает их по возрастанию версии.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := matches[2], matches[3]

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.DownSQL
		if direction == "up" {
			target = &m.UpSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		m.Checksum = checksum(m.UpSQL)
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
