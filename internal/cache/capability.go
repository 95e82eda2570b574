package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirsource"
)

// CapabilitySource is the slice of C3 a CachedCapabilitySource wraps.
type CapabilitySource interface {
	Capability(ctx context.Context) (fhirsource.CapabilityStatement, error)
}

// CachedCapabilitySource decorates a CapabilitySource with a read-through
// cache, so the capability-statement pre-flight check (used to decide
// history-vs-search per directory, per SPEC_FULL.md's supplemented
// features) doesn't re-fetch /metadata on every update pass.
type CachedCapabilitySource struct {
	source      CapabilitySource
	cache       Store
	directoryID string
}

// WrapCapability builds a CachedCapabilitySource for one directory.
func WrapCapability(source CapabilitySource, cache Store, directoryID string) *CachedCapabilitySource {
	return &CachedCapabilitySource{source: source, cache: cache, directoryID: directoryID}
}

// Capability returns the cached capability statement if present, otherwise
// fetches it from the underlying source and caches the result.
func (w *CachedCapabilitySource) Capability(ctx context.Context) (fhirsource.CapabilityStatement, error) {
	key, err := Key(w.directoryID, "capability", nil)
	if err != nil {
		return fhirsource.CapabilityStatement{}, err
	}

	if cached, ok, err := w.cache.Get(ctx, key); err == nil && ok {
		var cs fhirsource.CapabilityStatement
		if err := json.Unmarshal(cached, &cs); err == nil {
			return cs, nil
		}
	}

	cs, err := w.source.Capability(ctx)
	if err != nil {
		return fhirsource.CapabilityStatement{}, fmt.Errorf("fetch capability statement: %w", err)
	}
	if body, err := json.Marshal(cs); err == nil {
		_ = w.cache.Put(ctx, key, body)
	}
	return cs, nil
}
