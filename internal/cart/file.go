package cart

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/cartprobe/internal/reconcile"
)

// Fixed is a Source that always returns the same snapshot, such as one loaded from disk.
type Fixed Snapshot

func (f Fixed) Read(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot(f), nil
}

// DecodeSnapshot reads a YAML cart description:
//
//	url: https://shop.example/cart
//	total: 45.97
//	items:
//	  - label: Backpack
//	    price: 29.99
//	    quantity: 1
//
// Items without a quantity count as quantity 1.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var raw struct {
		URL   string  `yaml:"url"`
		Total float64 `yaml:"total"`
		Items []struct {
			Label    string  `yaml:"label"`
			Price    float64 `yaml:"price"`
			Quantity *int    `yaml:"quantity"`
		} `yaml:"items"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode cart: %w", err)
	}

	snap := Snapshot{URL: raw.URL, ObservedTotal: raw.Total}
	for i, it := range raw.Items {
		rec := reconcile.ItemRecord{Label: it.Label, UnitPrice: it.Price, Quantity: 1}
		if rec.Label == "" {
			rec.Label = fmt.Sprintf("Item %d", i+1)
		}
		if it.Quantity != nil {
			rec.Quantity = *it.Quantity
		}
		snap.Items = append(snap.Items, rec)
	}
	return snap, nil
}

// LoadSnapshot reads a YAML cart description from path.
func LoadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to open cart file: %w", err)
	}
	defer f.Close()
	return DecodeSnapshot(f)
}
