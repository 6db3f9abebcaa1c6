// Package memory provides an in-process RouteStore for tests and
// single-instance deployments without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// RouteStore is an in-memory implementation of storage.RouteStore.
type RouteStore struct {
	mu       sync.RWMutex
	byID     map[string]*route.EnrichedRoute
	byWallet map[string]map[string]struct{} // lower(wallet) -> route ids
}

// NewRouteStore creates a new in-memory route store.
func NewRouteStore() *RouteStore {
	return &RouteStore{
		byID:     make(map[string]*route.EnrichedRoute),
		byWallet: make(map[string]map[string]struct{}),
	}
}

var _ storage.RouteStore = (*RouteStore)(nil)

// FindByRouteID returns a copy of the stored route. Returns ErrNotFound if absent.
func (s *RouteStore) FindByRouteID(_ context.Context, routeID string) (*route.EnrichedRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[routeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// UpsertByRouteID stores a copy of r, replacing any previous document.
func (s *RouteStore) UpsertByRouteID(_ context.Context, routeID string, r *route.EnrichedRoute) error {
	if err := storage.ValidateRoute(routeID, r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[routeID] = r.Clone()
	w := strings.ToLower(r.Wallet)
	if s.byWallet[w] == nil {
		s.byWallet[w] = make(map[string]struct{})
	}
	s.byWallet[w][routeID] = struct{}{}
	return nil
}

// ListByWallet returns the wallet's routes ordered by window start descending.
func (s *RouteStore) ListByWallet(_ context.Context, wallet string, limit int) ([]*route.EnrichedRoute, error) {
	s.mu.RLock()
	ids := s.byWallet[strings.ToLower(wallet)]
	out := make([]*route.EnrichedRoute, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowStart != out[j].WindowStart {
			return out[i].WindowStart > out[j].WindowStart
		}
		return out[i].RouteID < out[j].RouteID
	})

	limit = storage.StoreLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored routes.
func (s *RouteStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *RouteStore) Ping(_ context.Context) error { return nil }

func (s *RouteStore) Close() error { return nil }
