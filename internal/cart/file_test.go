package cart

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartprobe/internal/reconcile"
)

func TestDecodeSnapshot(t *testing.T) {
	doc := `
url: https://shop.example/cart
total: 45.97
items:
  - label: Backpack
    price: 29.99
    quantity: 1
  - price: 7.99
    quantity: 2
  - label: Sticker
    price: 0.5
`
	snap, err := DecodeSnapshot(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/cart", snap.URL)
	assert.Equal(t, 45.97, snap.ObservedTotal)
	assert.Equal(t, []reconcile.ItemRecord{
		{Label: "Backpack", UnitPrice: 29.99, Quantity: 1},
		{Label: "Item 2", UnitPrice: 7.99, Quantity: 2},
		{Label: "Sticker", UnitPrice: 0.5, Quantity: 1},
	}, snap.Items)
}

func TestDecodeSnapshot_ExplicitZeroQuantity(t *testing.T) {
	snap, err := DecodeSnapshot(strings.NewReader("total: 0\nitems:\n  - price: 3\n    quantity: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Items[0].Quantity)
}

func TestDecodeSnapshot_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeSnapshot(strings.NewReader("total: 1\nitems:\n  - cost: 1\n"))
	assert.ErrorContains(t, err, "failed to decode cart")
}

func TestLoadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.yaml")
	require.NoError(t, os.WriteFile(path, []byte("total: 9.5\nitems:\n  - price: 9.5\n"), 0o600))

	snap, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 9.5, snap.ObservedTotal)
	assert.Len(t, snap.Items, 1)

	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to open cart file")
}
