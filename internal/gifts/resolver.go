package gifts

import (
	"sync"

	"github.com/nantokaworks/gift-relay/internal/giftcatalog"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// Resolver maps display names back to canonical gift names and resolves
// coin values from the catalog. Renames are cosmetic: mappings and
// thresholds stay bound to the original name.
type Resolver struct {
	catalog *giftcatalog.Catalog

	mu      sync.RWMutex
	reverse map[string]string // overrideName → originalName
}

func NewResolver(catalog *giftcatalog.Catalog, overrides []types.NameOverride) *Resolver {
	r := &Resolver{catalog: catalog}
	r.ReloadOverrides(overrides)
	return r
}

// ReloadOverrides rebuilds the reverse lookup table. Override names are
// expected to be unique; on a collision the last entry wins, which is a
// documented risk of the override table rather than something repaired
// here.
func (r *Resolver) ReloadOverrides(overrides []types.NameOverride) {
	reverse := make(map[string]string, len(overrides))
	for _, o := range overrides {
		if prev, ok := reverse[o.OverrideName]; ok && prev != o.OriginalName {
			logger.Warn("Duplicate override name, last write wins",
				zap.String("override", o.OverrideName),
				zap.String("previous", prev),
				zap.String("now", o.OriginalName))
		}
		reverse[o.OverrideName] = o.OriginalName
	}

	r.mu.Lock()
	r.reverse = reverse
	r.mu.Unlock()
}

// CanonicalName returns the pre-override name for mapping and threshold
// lookups. Names that are not override targets pass through unchanged.
// Never used for display.
func (r *Resolver) CanonicalName(displayName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if original, ok := r.reverse[displayName]; ok {
		return original
	}
	return displayName
}

// CoinValue resolves a gift name to its coin value. Unknown names
// resolve to 0 ("value not tracked"), never an error.
func (r *Resolver) CoinValue(name string) int {
	coins, _ := r.catalog.Lookup(name)
	return coins
}
