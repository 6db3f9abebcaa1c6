package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// AnalyzeBatch analyzes wallets with a bounded worker pool. The result maps
// every distinct wallet to its result; wallets that failed, panicked or had
// no data map to nil. One wallet's failure never affects another. Wallets
// that differ only by case are analyzed once, under the first spelling.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, wallets []string, opts Options) map[string]*Result {
	unique := make([]string, 0, len(wallets))
	seen := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		key := strings.ToLower(strings.TrimSpace(w))
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, w)
	}

	results := make(map[string]*Result, len(unique))
	var mu sync.Mutex
	record := func(wallet string, res *Result) {
		mu.Lock()
		results[wallet] = res
		mu.Unlock()
	}

	if a.config.Workers <= 1 {
		for _, w := range unique {
			record(w, a.analyzeIsolated(ctx, w, opts))
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(a.config.Workers)
	for _, w := range unique {
		g.Go(func() error {
			record(w, a.analyzeIsolated(ctx, w, opts))
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("wallets", len(unique)).
		Int("workers", a.config.Workers).
		Msg("analysis: batch complete")
	return results
}

// analyzeIsolated runs one analysis, converting errors and panics to nil.
func (a *Analyzer) analyzeIsolated(ctx context.Context, wallet string, opts Options) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("wallet", wallet).Str("panic", fmt.Sprint(r)).Msg("analysis: batch item panic recovered")
			res = nil
		}
	}()

	res, err := a.Analyze(ctx, wallet, opts)
	if err != nil {
		log.Error().Err(err).Str("wallet", wallet).Msg("analysis: batch item failed")
		return nil
	}
	return res
}
