// Package sqlite provides a single-node RouteStore backed by an embedded
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// RouteStore implements storage.RouteStore on SQLite.
type RouteStore struct {
	db *sql.DB
}

var _ storage.RouteStore = (*RouteStore)(nil)

// Open opens or creates the database at path. An empty path defaults to
// $TMPDIR/routeintel/routes.db.
func Open(path string) (*RouteStore, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "routeintel", "routes.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}

	s := &RouteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create tables: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite: route store opened")
	return s, nil
}

func (s *RouteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			route_id        TEXT PRIMARY KEY,
			wallet          TEXT NOT NULL,
			wallet_lower    TEXT NOT NULL,
			window_start    INTEGER NOT NULL,
			window_end      INTEGER NOT NULL,
			route_type      TEXT NOT NULL,
			dump_risk_score REAL NOT NULL DEFAULT 0,
			alert_generated INTEGER NOT NULL DEFAULT 0,
			document        TEXT NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_wallet ON routes(wallet_lower, window_start DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// FindByRouteID returns the stored route. Returns ErrNotFound if absent.
func (s *RouteStore) FindByRouteID(ctx context.Context, routeID string) (*route.EnrichedRoute, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM routes WHERE route_id = ?`, routeID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find route: %w", err)
	}

	var r route.EnrichedRoute
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("sqlite: decode route %s: %w", routeID, err)
	}
	return &r, nil
}

// UpsertByRouteID inserts or replaces the document under routeID.
func (s *RouteStore) UpsertByRouteID(ctx context.Context, routeID string, r *route.EnrichedRoute) error {
	if err := storage.ValidateRoute(routeID, r); err != nil {
		return err
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sqlite: encode route: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes
			(route_id, wallet, wallet_lower, window_start, window_end, route_type,
			 dump_risk_score, alert_generated, document, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(route_id) DO UPDATE SET
			wallet          = excluded.wallet,
			wallet_lower    = excluded.wallet_lower,
			window_start    = excluded.window_start,
			window_end      = excluded.window_end,
			route_type      = excluded.route_type,
			dump_risk_score = excluded.dump_risk_score,
			alert_generated = excluded.alert_generated,
			document        = excluded.document,
			updated_at      = excluded.updated_at`,
		routeID, r.Wallet, strings.ToLower(r.Wallet), r.WindowStart, r.WindowEnd,
		string(r.RouteType), r.DumpRiskScore, r.AlertGenerated, string(doc),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert route: %w", err)
	}
	return nil
}

// ListByWallet returns the wallet's routes, newest window first.
func (s *RouteStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*route.EnrichedRoute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM routes
		WHERE wallet_lower = ?
		ORDER BY window_start DESC, route_id ASC
		LIMIT ?`,
		strings.ToLower(wallet), storage.StoreLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list routes: %w", err)
	}
	defer rows.Close()

	var out []*route.EnrichedRoute
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan route: %w", err)
		}
		var r route.EnrichedRoute
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("sqlite: decode route: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *RouteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *RouteStore) Close() error {
	return s.db.Close()
}
