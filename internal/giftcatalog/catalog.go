// Package giftcatalog resolves gift names to coin values. The catalog is
// grouped into buckets by coin value, the same shape the vendor publishes.
package giftcatalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// Bucket lists all gift names worth the same number of coins.
type Bucket struct {
	Coins int      `json:"coins"`
	Names []string `json:"names"`
}

// Catalog holds the bucket list. Lookups scan buckets in order; the
// first exact name match wins.
type Catalog struct {
	mu      sync.RWMutex
	buckets []Bucket
}

func New(buckets []Bucket) *Catalog {
	return &Catalog{buckets: buckets}
}

// LoadFromFile reads a bucket list from a JSON catalog file.
func LoadFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gift catalog: %w", err)
	}

	var doc struct {
		Buckets []Bucket `json:"buckets"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse gift catalog: %w", err)
	}

	logger.Info("Gift catalog loaded",
		zap.String("path", path),
		zap.Int("buckets", len(doc.Buckets)))
	return New(doc.Buckets), nil
}

// Lookup returns the coin value of a gift name. Absent names resolve to
// (0, false): value not tracked, never an error.
func (c *Catalog) Lookup(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, bucket := range c.buckets {
		for _, n := range bucket.Names {
			if n == name {
				return bucket.Coins, true
			}
		}
	}
	return 0, false
}

// Enumerate returns every gift name worth the given coin value.
func (c *Catalog) Enumerate(coins int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for _, bucket := range c.buckets {
		if bucket.Coins == coins {
			names = append(names, bucket.Names...)
		}
	}
	return names
}

// Replace swaps in a new bucket list, e.g. after a catalog refresh.
func (c *Catalog) Replace(buckets []Bucket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets = buckets
}
