// Package rewrite implements the Reference Rewriter (C5): turns a resource
// retrieved from a remote directory into one addressed entirely in this
// update client's local identity space, per spec.md §4.5.
package rewrite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirutil"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/resourcemap"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

// Allocator is the slice of *resourcemap.Store the rewriter needs: reserve
// (or look up) the local id standing in for a remote resource identity.
type Allocator interface {
	Allocate(ctx context.Context, directoryID, resourceType, directoryResourceID string) (resourcemap.Record, error)
}

// Rewriter rewrites resources from one remote directory into local identity.
type Rewriter struct {
	store         Allocator
	directoryID   string
	sourceBaseURL string
	localBaseURL  string
}

// New builds a Rewriter for one directory's pass. sourceBaseURL is the
// remote directory's own FHIR base URL (used to recognize both relative and
// absolute self-references); localBaseURL is this update client's FHIR
// store base URL (recognized, but never rewritten further).
func New(store Allocator, directoryID, sourceBaseURL, localBaseURL string) *Rewriter {
	return &Rewriter{store: store, directoryID: directoryID, sourceBaseURL: sourceBaseURL, localBaseURL: localBaseURL}
}

// Rewrite translates one resource body from remote identity to local
// identity, returning the resource's own new local id alongside the
// rewritten body. The body's top-level "id" is set to that local id, so the
// result can be PUT directly to C4 at {resourceType}/{localID}.
func (r *Rewriter) Rewrite(ctx context.Context, resourceType, remoteID string, body json.RawMessage) (string, json.RawMessage, error) {
	var resource map[string]any
	if err := json.Unmarshal(body, &resource); err != nil {
		return "", nil, syncerr.New(syncerr.ParseInvalidResource, fmt.Errorf("unmarshal %s/%s: %w", resourceType, remoteID, err))
	}

	rec, err := r.store.Allocate(ctx, r.directoryID, resourceType, remoteID)
	if err != nil {
		return "", nil, syncerr.New(syncerr.MapConflict, fmt.Errorf("allocate local id for %s/%s: %w", resourceType, remoteID, err))
	}
	localID := rec.UpdateClientResourceID

	clearServerAssignedMeta(resource)
	resource["id"] = localID

	if err := r.walk(ctx, resource); err != nil {
		return "", nil, err
	}
	r.stripSourceIdentifiers(resource)

	rewritten, err := json.Marshal(resource)
	if err != nil {
		return "", nil, syncerr.New(syncerr.ParseInvalidResource, fmt.Errorf("marshal rewritten %s/%s: %w", resourceType, remoteID, err))
	}
	return localID, rewritten, nil
}

// clearServerAssignedMeta drops versionId/lastUpdated, which the local
// server reassigns on write (spec.md §4.5 step 1).
func clearServerAssignedMeta(resource map[string]any) {
	meta, ok := resource["meta"].(map[string]any)
	if !ok {
		return
	}
	delete(meta, "versionId")
	delete(meta, "lastUpdated")
}

// walk recursively rewrites every "reference" and "fullUrl" field, and
// recurses into every nested map/slice, preserving every other field
// verbatim (spec.md §4.5 steps 2-3, 5).
func (r *Rewriter) walk(ctx context.Context, node any) error {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["reference"].(string); ok && ref != "" {
			rewritten, err := r.rewriteReference(ctx, ref)
			if err != nil {
				return err
			}
			if rewritten != "" {
				v["reference"] = rewritten
			}
		}
		if full, ok := v["fullUrl"].(string); ok && full != "" {
			rewritten, err := r.rewriteReference(ctx, full)
			if err != nil {
				return err
			}
			if rewritten != "" {
				v["fullUrl"] = rewritten
			}
		}
		for key, value := range v {
			if key == "reference" || key == "fullUrl" {
				continue
			}
			if err := r.walk(ctx, value); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range v {
			if err := r.walk(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteReference resolves one reference/fullUrl value to local identity.
// A non-FHIR-shaped value (one that isn't "RType/id" and isn't recognized as
// an absolute URL from the source or local server) is left untouched: it may
// be a narrative anchor, a contained-resource local ref ("#id"), or similar.
func (r *Rewriter) rewriteReference(ctx context.Context, value string) (string, error) {
	if len(value) > 0 && value[0] == '#' {
		return "", nil
	}

	resourceType, remoteID, ok := fhirutil.SplitReference(value)
	if !ok && fhirutil.IsAbsoluteURL(value) {
		switch {
		case fhirutil.OriginMatches(value, r.sourceBaseURL):
			resourceType, remoteID, ok = splitTrailingPath(value)
		case r.localBaseURL != "" && fhirutil.OriginMatches(value, r.localBaseURL):
			// Already local; nothing to translate.
			return "", nil
		default:
			return "", syncerr.New(syncerr.CrossOriginReference, fmt.Errorf("reference to third-party origin: %s", value))
		}
	}
	if !ok {
		return "", nil
	}

	rec, err := r.store.Allocate(ctx, r.directoryID, resourceType, remoteID)
	if err != nil {
		return "", syncerr.New(syncerr.MapConflict, fmt.Errorf("allocate local id for reference %s/%s: %w", resourceType, remoteID, err))
	}
	return resourceType + "/" + rec.UpdateClientResourceID, nil
}

// splitTrailingPath extracts "ResourceType/id" from the last two path
// segments of an absolute URL already confirmed to share the source's origin.
func splitTrailingPath(absoluteURL string) (resourceType, id string, ok bool) {
	idx := -1
	for i := len(absoluteURL) - 1; i >= 0; i-- {
		if absoluteURL[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "", "", false
	}
	secondIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if absoluteURL[i] == '/' {
			secondIdx = i
			break
		}
	}
	if secondIdx < 0 {
		return "", "", false
	}
	return absoluteURL[secondIdx+1 : idx], absoluteURL[idx+1:], true
}

// stripSourceIdentifiers walks the tree dropping identifier entries whose
// system is the source directory's own base URL: a self-identifying URI
// that is only meaningful on the directory it came from (spec.md §4.5 step
// 4). Every other identifier, including ones meaningful across directories
// (e.g. a URA), passes through verbatim.
func (r *Rewriter) stripSourceIdentifiers(node any) {
	switch v := node.(type) {
	case map[string]any:
		if idsRaw, ok := v["identifier"].([]any); ok {
			v["identifier"] = r.filterIdentifierList(idsRaw)
		}
		for key, value := range v {
			if key == "identifier" {
				continue
			}
			r.stripSourceIdentifiers(value)
		}
	case []any:
		for _, item := range v {
			r.stripSourceIdentifiers(item)
		}
	}
}

func (r *Rewriter) filterIdentifierList(ids []any) []any {
	if r.sourceBaseURL == "" {
		return ids
	}
	filtered := make([]any, 0, len(ids))
	for _, item := range ids {
		idMap, ok := item.(map[string]any)
		if !ok {
			filtered = append(filtered, item)
			continue
		}
		if system, _ := idMap["system"].(string); system == r.sourceBaseURL {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}
