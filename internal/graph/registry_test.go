package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SeededLookup(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	// Checksummed and lower-case forms both match.
	m, err := r.IsKnownExchangeAddress(ctx, "0x28C6c06298d514Db089934071355E5743bf21d60")
	require.NoError(t, err)
	assert.True(t, m.IsExchange)
	assert.Equal(t, "binance", m.Name)

	m, err = r.IsKnownExchangeAddress(ctx, "0x28c6c06298d514db089934071355e5743bf21d60")
	require.NoError(t, err)
	assert.True(t, m.IsExchange)

	m, err = r.IsKnownExchangeAddress(ctx, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, m.IsExchange)
	assert.Empty(t, m.Name)
}

func TestRegistry_NoPrefixMatching(t *testing.T) {
	r := NewEmptyRegistry()
	r.Add("0xabc123", "ex")

	m, err := r.IsKnownExchangeAddress(context.Background(), "0xabc12")
	require.NoError(t, err)
	assert.False(t, m.IsExchange)
}

func TestRegistry_CancelledContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.IsKnownExchangeAddress(ctx, "0xanything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewEmptyRegistry()
	r.Add("0xAbC", "ex")
	r.Add("", "ignored")
	assert.Equal(t, 1, r.Count())

	r.Remove("0xABC")
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchanges.yaml")
	content := `
exchanges:
  - name: gemini
    addresses:
      - "0xd24400ae8BfEBb18cA49Be86258a3C749cf46853"
      - ""
  - name: bitfinex
    addresses:
      - "0x876EabF441B2EE5B5b0554Fd502a8E0600950cFa"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := NewEmptyRegistry()
	added, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"bitfinex", "gemini"}, r.Exchanges())
}

func TestRegistry_LoadFile_MissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exchanges:\n  - addresses: [\"0x1\"]\n"), 0o644))

	_, err := NewEmptyRegistry().LoadFile(path)
	assert.Error(t, err)
}
