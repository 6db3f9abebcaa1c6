package graph

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Exchange Registry: known centralized exchange deposit/hot wallet addresses
// Lookups are exact and case-insensitive.
// ---------------------------------------------------------------------------

// seedExchanges maps known exchange hot wallet addresses to exchange names.
var seedExchanges = map[string]string{
	// Binance
	"0x28C6c06298d514Db089934071355E5743bf21d60":   "binance",
	"0x21a31Ee1afC51d94C2eFcCAa2092aD1028285549":   "binance",
	"0xDFd5293D8e347dFe59E90eFd55b2956a1343963d":   "binance",
	"5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9": "binance",
	"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM": "binance",

	// Coinbase
	"0x71660c4005BA85c37ccec55d0C4493E66Fe775d3":   "coinbase",
	"0x503828976D22510aad0201ac7EC88293211D23Da":   "coinbase",
	"GJRs4FwHtemZ5ZE9x3FNvJ8TMwitKTh21yxdRPqn7npE": "coinbase",
	"H8sMJSCQxfKiFTCfDR3DUMLPwcRbM61LGFJ8N4dK3WjS": "coinbase",

	// Kraken
	"0x2910543Af39abA0Cd09dBb2D50200b3E800A63D2":   "kraken",
	"FWznbcNXWQuHTawe9RxvQ2LdCENssh12dsznf4RiouN5": "kraken",

	// OKX
	"0x6cC5F688a315f3dC28A7781717a9A798a59fDA7b":   "okx",
	"5VCwKtCXgCJ6kit5FybXjvFnPXCrKoKwFqgq5YVe1rAS": "okx",

	// Bybit
	"0xf89d7b9c864f589bbF53a82105107622B35EaA40":   "bybit",
	"AC5RDfQFmDS1deWZos921JfqscXdByf6BKHAbETSYnh7": "bybit",

	// KuCoin
	"0xD6216fC19DB775Df9774a6E33526131dA7D19a2c":   "kucoin",
	"BmFdpraQhkiDQE6SnfG5PVddTtR3GYBnCkEHAowHvPLJ": "kucoin",
}

// Registry is a concurrency-safe exchange address set.
type Registry struct {
	mu        sync.RWMutex
	addresses map[string]string // lower-cased address -> exchange name
}

// NewRegistry creates a registry seeded with the built-in exchange wallets.
func NewRegistry() *Registry {
	r := &Registry{addresses: make(map[string]string, len(seedExchanges))}
	for addr, name := range seedExchanges {
		r.addresses[route.NormalizeAddress(addr)] = name
	}
	return r
}

// NewEmptyRegistry creates a registry with no entries.
func NewEmptyRegistry() *Registry {
	return &Registry{addresses: make(map[string]string)}
}

// IsKnownExchangeAddress reports whether addr belongs to a known exchange.
func (r *Registry) IsKnownExchangeAddress(ctx context.Context, addr string) (route.ExchangeMatch, error) {
	if err := ctx.Err(); err != nil {
		return route.ExchangeMatch{}, err
	}
	r.mu.RLock()
	name, ok := r.addresses[route.NormalizeAddress(addr)]
	r.mu.RUnlock()
	if !ok {
		return route.ExchangeMatch{}, nil
	}
	return route.ExchangeMatch{IsExchange: true, Name: name}, nil
}

// Add registers an exchange address at runtime.
func (r *Registry) Add(addr, exchange string) {
	a := route.NormalizeAddress(addr)
	if a == "" {
		return
	}
	r.mu.Lock()
	r.addresses[a] = exchange
	r.mu.Unlock()
}

// Remove drops an address.
func (r *Registry) Remove(addr string) {
	r.mu.Lock()
	delete(r.addresses, route.NormalizeAddress(addr))
	r.mu.Unlock()
}

// Count returns the number of known addresses.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addresses)
}

// Exchanges returns the sorted distinct exchange names.
func (r *Registry) Exchanges() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, name := range r.addresses {
		seen[name] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// registryFile is the YAML layout accepted by LoadFile.
type registryFile struct {
	Exchanges []struct {
		Name      string   `yaml:"name"`
		Addresses []string `yaml:"addresses"`
	} `yaml:"exchanges"`
}

// LoadFile merges exchange addresses from a YAML file into the registry.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("graph: read registry file: %w", err)
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return 0, fmt.Errorf("graph: parse registry file: %w", err)
	}

	added := 0
	for _, ex := range rf.Exchanges {
		if ex.Name == "" {
			return added, fmt.Errorf("graph: registry entry without name in %s", path)
		}
		for _, addr := range ex.Addresses {
			if route.NormalizeAddress(addr) == "" {
				continue
			}
			r.Add(addr, ex.Name)
			added++
		}
	}

	log.Info().
		Int("added", added).
		Int("total", r.Count()).
		Str("path", path).
		Msg("graph: exchange registry loaded")

	return added, nil
}
