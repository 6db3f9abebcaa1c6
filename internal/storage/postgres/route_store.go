package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// RouteStore implements storage.RouteStore using PostgreSQL. The full
// document is stored as JSONB; scalar columns exist for indexing.
type RouteStore struct {
	pool *Pool
}

// NewRouteStore creates a new RouteStore.
func NewRouteStore(pool *Pool) *RouteStore {
	return &RouteStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RouteStore = (*RouteStore)(nil)

// FindByRouteID returns the stored route. Returns ErrNotFound if not exists.
func (s *RouteStore) FindByRouteID(ctx context.Context, routeID string) (*route.EnrichedRoute, error) {
	query := `SELECT document FROM routes WHERE route_id = $1`

	var doc []byte
	if err := s.pool.QueryRow(ctx, query, routeID).Scan(&doc); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find route: %w", err)
	}

	var r route.EnrichedRoute
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("postgres: decode route %s: %w", routeID, err)
	}
	return &r, nil
}

// UpsertByRouteID inserts or fully replaces the document under routeID.
func (s *RouteStore) UpsertByRouteID(ctx context.Context, routeID string, r *route.EnrichedRoute) error {
	if err := storage.ValidateRoute(routeID, r); err != nil {
		return err
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: encode route: %w", err)
	}

	query := `
		INSERT INTO routes (
			route_id, wallet, window_start, window_end, route_type,
			dump_risk_score, alert_generated, document
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (route_id) DO UPDATE SET
			wallet          = EXCLUDED.wallet,
			window_start    = EXCLUDED.window_start,
			window_end      = EXCLUDED.window_end,
			route_type      = EXCLUDED.route_type,
			dump_risk_score = EXCLUDED.dump_risk_score,
			alert_generated = EXCLUDED.alert_generated,
			document        = EXCLUDED.document,
			updated_at      = NOW()
	`

	_, err = s.pool.Exec(ctx, query,
		routeID,
		r.Wallet,
		r.WindowStart,
		r.WindowEnd,
		string(r.RouteType),
		r.DumpRiskScore,
		r.AlertGenerated,
		doc,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert route: %w", err)
	}
	return nil
}

// ListByWallet returns the wallet's routes, newest window first.
func (s *RouteStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*route.EnrichedRoute, error) {
	query := `
		SELECT document
		FROM routes
		WHERE lower(wallet) = lower($1)
		ORDER BY window_start DESC, route_id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, wallet, storage.StoreLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list routes: %w", err)
	}
	defer rows.Close()

	var out []*route.EnrichedRoute
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan route: %w", err)
		}
		var r route.EnrichedRoute
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("postgres: decode route: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate routes: %w", err)
	}
	return out, nil
}

// Ping checks the pool.
func (s *RouteStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool.
func (s *RouteStore) Close() error {
	s.pool.Close()
	return nil
}
