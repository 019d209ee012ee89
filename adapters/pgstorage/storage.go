// Package pgstorage keeps sticky experiment assignments in PostgreSQL.
//
// One row per storage key holds a JSONB object mapping config names to
// sticky values. Save and Delete touch a single config name in place.
package pgstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wippyai/flagcore/client"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

// Querier is the part of a pgx pool or connection the storage uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage implements client.PersistentStorageAdapter.
type Storage struct {
	db      Querier
	timeout time.Duration

	ensureSQL string
	loadSQL   string
	saveSQL   string
	deleteSQL string
}

var _ client.PersistentStorageAdapter = (*Storage)(nil)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New builds a Storage over db. The table name must be a plain identifier.
func New(db Querier, cfg Config) (*Storage, error) {
	table := cfg.Table
	if table == "" {
		table = "flagcore_sticky_values"
	}
	if !tableName.MatchString(table) {
		return nil, errors.InvalidInput(errors.PhaseConfig, "invalid table name "+table)
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Storage{
		db:      db,
		timeout: timeout,
		ensureSQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	storage_key TEXT PRIMARY KEY,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table),
		loadSQL: fmt.Sprintf(`SELECT data FROM %s WHERE storage_key = $1`, table),
		saveSQL: fmt.Sprintf(`INSERT INTO %[1]s (storage_key, data) VALUES ($1, jsonb_build_object($2::text, $3::jsonb))
ON CONFLICT (storage_key) DO UPDATE SET data = %[1]s.data || EXCLUDED.data, updated_at = now()`, table),
		deleteSQL: fmt.Sprintf(`UPDATE %s SET data = data - $2::text, updated_at = now() WHERE storage_key = $1`, table),
	}, nil
}

// EnsureSchema creates the table if it does not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.ensureSQL); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "create sticky values table")
	}
	return nil
}

// Load returns an empty map for an unknown key.
func (s *Storage) Load(key string) (model.UserPersistedValues, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var raw []byte
	err := s.db.QueryRow(ctx, s.loadSQL, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserPersistedValues{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "load sticky values")
	}

	values := model.UserPersistedValues{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Decode("load sticky values", err)
	}
	return values, nil
}

// Save merges one sticky value into the row for key.
func (s *Storage) Save(key, configName string, data model.StickyValues) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Encode("save sticky values", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.db.Exec(ctx, s.saveSQL, key, configName, string(raw)); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "save sticky values")
	}
	return nil
}

// Delete removes configName from the row for key.
func (s *Storage) Delete(key, configName string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.db.Exec(ctx, s.deleteSQL, key, configName); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "delete sticky values")
	}
	return nil
}

func (s *Storage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}
