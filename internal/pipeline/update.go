// Package pipeline implements the Update Pipeline (C6) and Cleanup Pipeline
// (C7): per-directory discover -> fetch -> map -> rewrite -> write ->
// advance-watermark, and the resource teardown that runs when a directory
// becomes eligible for cleanup, per spec.md §4.6/§4.7.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirsource"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirutil"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/resourcemap"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/validate"
)

// ResourceTypes is the fixed mCSD resource type processing order, chosen so
// referential dependencies (Organization before PractitionerRole, etc.) are
// satisfied wherever possible (spec.md §4.3).
var ResourceTypes = []string{
	"Organization",
	"Location",
	"Endpoint",
	"HealthcareService",
	"Practitioner",
	"PractitionerRole",
	"OrganizationAffiliation",
}

// SourceClient is the slice of C3 the update pipeline needs.
type SourceClient interface {
	Search(ctx context.Context, resourceType string, params url.Values) ([]fhir.BundleEntry, fhir.Bundle, error)
	History(ctx context.Context, resourceType string, since time.Time) ([]fhir.BundleEntry, fhir.Bundle, error)
}

// SinkClient is the slice of C4 the update pipeline needs.
type SinkClient interface {
	Put(ctx context.Context, resourceType, localID string, body json.RawMessage) error
	Delete(ctx context.Context, resourceType, localID string) error
}

// MapStore is the slice of C2 the update pipeline needs.
type MapStore interface {
	Lookup(ctx context.Context, directoryID, resourceType, directoryResourceID string) (resourcemap.Record, error)
	Delete(ctx context.Context, rec resourcemap.Record) error
	RecordVersions(ctx context.Context, rec resourcemap.Record, remoteVersion, localVersion int, t time.Time) error
}

// EntryRewriter is the slice of C5 the update pipeline needs.
type EntryRewriter interface {
	Rewrite(ctx context.Context, resourceType, remoteID string, body json.RawMessage) (string, json.RawMessage, error)
}

// Registry is the slice of C1 the update pipeline needs to report outcome.
type Registry interface {
	MarkSuccess(ctx context.Context, id string, t time.Time) error
	MarkFailure(ctx context.Context, id string) error
}

// Report summarizes one pass over one directory (spec.md §4.6 step 5).
type Report struct {
	Seen     int
	Written  int
	Deleted  int
	Skipped  int
	Warnings []string
}

// UpdatePipeline runs the per-directory update pass.
type UpdatePipeline struct {
	source        SourceClient
	sink          SinkClient
	maps          MapStore
	rewriter      EntryRewriter
	registry      Registry
	resourceTypes []string
	now           func() time.Time

	strictValidation bool
	validationRules  validate.Rules
}

// New builds an UpdatePipeline. A nil resourceTypes defaults to ResourceTypes.
func New(source SourceClient, sink SinkClient, maps MapStore, rewriter EntryRewriter, registry Registry, resourceTypes []string) *UpdatePipeline {
	if resourceTypes == nil {
		resourceTypes = ResourceTypes
	}
	return &UpdatePipeline{source: source, sink: sink, maps: maps, rewriter: rewriter, registry: registry, resourceTypes: resourceTypes, now: time.Now}
}

// WithStrictValidation enables the structural checks internal/validate
// performs on every entry before it is written, per spec.md §7's
// validation-failed kind (gated by the strict_validation config option). A
// failing entry is skipped; the pass continues.
func (p *UpdatePipeline) WithStrictValidation(rules validate.Rules) *UpdatePipeline {
	p.strictValidation = true
	p.validationRules = rules
	return p
}

// Run executes one update pass for directoryID starting from watermark (the
// directory's last successful sync time; the zero time means "never
// synced", equivalent to spec.md §4.6 step 1's epoch fallback).
func (p *UpdatePipeline) Run(ctx context.Context, directoryID string, watermark time.Time) (Report, error) {
	var report Report
	passStart := p.now()
	nextWatermark := watermark

	for _, rtype := range p.resourceTypes {
		entries, bundle, err := p.source.History(ctx, rtype, watermark)
		if errors.Is(err, fhirsource.ErrHistoryTooOld) {
			entries, bundle, err = p.source.Search(ctx, rtype, url.Values{})
		}
		if err != nil {
			kind := syncerr.KindOf(err)
			if kind.AbortsPass() {
				if kind.CountsAsFailure() {
					_ = p.registry.MarkFailure(ctx, directoryID)
				}
				return report, err
			}
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", rtype, err.Error()))
			continue
		}

		if t, ok := bundleLastUpdated(bundle); ok && t.After(nextWatermark) {
			nextWatermark = t
		}

		for _, entry := range entries {
			report.Seen++
			if err := p.processEntry(ctx, directoryID, rtype, entry, &report); err != nil {
				kind := syncerr.KindOf(err)
				if kind.AbortsPass() {
					if kind.CountsAsFailure() {
						_ = p.registry.MarkFailure(ctx, directoryID)
					}
					return report, err
				}
				report.Skipped++
				report.Warnings = append(report.Warnings, err.Error())
			}
		}
	}

	if nextWatermark.Equal(watermark) {
		nextWatermark = passStart
	}
	if err := p.registry.MarkSuccess(ctx, directoryID, nextWatermark); err != nil {
		return report, fmt.Errorf("mark directory %s successful: %w", directoryID, err)
	}
	return report, nil
}

func (p *UpdatePipeline) processEntry(ctx context.Context, directoryID, resourceType string, entry fhir.BundleEntry, report *Report) error {
	if entry.Request != nil && entry.Request.Method == fhir.HTTPVerbDELETE {
		remoteID, ok := deleteTargetID(entry)
		if !ok {
			return syncerr.New(syncerr.ParseInvalidResource, fmt.Errorf("entry has no parseable delete target"))
		}
		rec, err := p.maps.Lookup(ctx, directoryID, resourceType, remoteID)
		if errors.Is(err, resourcemap.ErrNotFound) {
			// Never synced locally; nothing to delete.
			return nil
		}
		if err != nil {
			return syncerr.New(syncerr.MapConflict, err)
		}
		if err := p.sink.Delete(ctx, resourceType, rec.UpdateClientResourceID); err != nil {
			return err
		}
		if err := p.maps.Delete(ctx, rec); err != nil {
			return syncerr.New(syncerr.MapConflict, err)
		}
		report.Deleted++
		return nil
	}

	if entry.Resource == nil {
		return syncerr.New(syncerr.ParseInvalidResource, fmt.Errorf("entry has no resource body"))
	}
	info, err := fhirutil.ExtractResourceInfo(entry.Resource)
	if err != nil {
		return syncerr.New(syncerr.ParseInvalidResource, err)
	}

	if p.strictValidation {
		if err := validate.Validate(p.validationRules, resourceType, entry.Resource); err != nil {
			return err
		}
	}

	localID, rewritten, err := p.rewriter.Rewrite(ctx, resourceType, info.ID, entry.Resource)
	if err != nil {
		return err
	}
	if err := p.sink.Put(ctx, resourceType, localID, rewritten); err != nil {
		return err
	}

	rec, err := p.maps.Lookup(ctx, directoryID, resourceType, info.ID)
	if err == nil {
		version := parseVersion(info.VersionID)
		if err := p.maps.RecordVersions(ctx, rec, version, version, p.now()); err != nil {
			return syncerr.New(syncerr.MapConflict, err)
		}
	}
	report.Written++
	return nil
}

// deleteTargetID extracts the remote resource id from a history DELETE
// entry's request URL ("ResourceType/id" or "ResourceType/id/_history/v"),
// falling back to the fullUrl's trailing path segment.
func deleteTargetID(entry fhir.BundleEntry) (string, bool) {
	if entry.Request != nil && entry.Request.Url != "" {
		parts := strings.Split(entry.Request.Url, "/")
		if len(parts) >= 2 && parts[1] != "" {
			return parts[1], true
		}
	}
	if entry.FullUrl != nil {
		parts := strings.Split(*entry.FullUrl, "/")
		if len(parts) > 0 && parts[len(parts)-1] != "" {
			return parts[len(parts)-1], true
		}
	}
	return "", false
}

func bundleLastUpdated(bundle fhir.Bundle) (time.Time, bool) {
	if bundle.Meta == nil || bundle.Meta.LastUpdated == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *bundle.Meta.LastUpdated)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseVersion(versionID string) int {
	var v int
	_, _ = fmt.Sscanf(versionID, "%d", &v)
	return v
}
