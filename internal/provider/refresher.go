// Package provider implements the Provider-Directory Refresher (C9): a
// periodic reconciliation pass that reads a provider mCSD directory's
// Organization/Endpoint bundle, registers every endpoint tagged as an mCSD
// directory-update-client into the directory registry, and retires
// directories no longer advertised, per spec.md §4.9.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirutil"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/logging"
)

// uraNamingSystem identifies the identifier system carrying an
// organization's URA (Unique Registration Number), used as the
// authoritative-URA discriminator in a directory's identity key.
const uraNamingSystem = "http://fhir.nl/fhir/NamingSystem/ura"

// mcsdPayloadTypeSystem/mcsdPayloadTypeCode identify the
// Endpoint.payloadType coding that marks an Endpoint as an mCSD directory's
// update-client-facing FHIR endpoint, as opposed to any other endpoint an
// Organization resource might advertise.
const (
	mcsdPayloadTypeSystem = "http://nuts-foundation.github.io/nl-generic-functions-ig/CodeSystem/nl-gf-data-exchange-capabilities"
	mcsdPayloadTypeCode   = "http://nuts-foundation.github.io/nl-generic-functions-ig/CapabilityStatement/nl-gf-admin-directory-update-client"
)

// Source is the slice of C3 the refresher needs: a full search against the
// provider's FHIR endpoint.
type Source interface {
	Search(ctx context.Context, resourceType string, params url.Values) ([]fhir.BundleEntry, fhir.Bundle, error)
}

// Registrar is the slice of C1 the refresher needs to reconcile directories.
type Registrar interface {
	Upsert(ctx context.Context, id, endpointAddress string, origin directory.Origin) (directory.Record, error)
	ScheduleDelete(ctx context.Context, id string, at time.Time) error
}

// Churn is the slice of ChurnStore the refresher needs.
type Churn interface {
	MarkSeen(ctx context.Context, directoryID string, at time.Time) error
	MarkRemoved(ctx context.Context, directoryID string, at time.Time) error
	ListStale(ctx context.Context, cutoff time.Time) ([]ChurnRecord, error)
}

// Refresher reconciles the directory registry against one provider's
// Organization/Endpoint bundle on each Run.
type Refresher struct {
	source      Source
	registrar   Registrar
	churn       Churn
	removeAfter time.Duration
	now         func() time.Time
}

// New builds a Refresher. removeAfter is how long a directory may go unseen
// in successive refresh cycles before it is scheduled for cleanup.
func New(source Source, registrar Registrar, churn Churn, removeAfter time.Duration) *Refresher {
	return &Refresher{source: source, registrar: registrar, churn: churn, removeAfter: removeAfter, now: time.Now}
}

// Report summarizes one refresh cycle.
type Report struct {
	Discovered int
	Removed    int
	Warnings   []string
}

// Run fetches the provider's Organization and Endpoint resources, registers
// every directory-tagged Endpoint discovered, and schedules cleanup for any
// previously-seen directory that has aged out of the provider's response.
func (r *Refresher) Run(ctx context.Context) (Report, error) {
	var report Report
	now := r.now().UTC()

	orgEntries, _, err := r.source.Search(ctx, "Organization", url.Values{})
	if err != nil {
		return report, fmt.Errorf("search provider organizations: %w", err)
	}
	endpointEntries, _, err := r.source.Search(ctx, "Endpoint", url.Values{})
	if err != nil {
		return report, fmt.Errorf("search provider endpoints: %w", err)
	}

	endpointsByID := make(map[string]fhir.Endpoint, len(endpointEntries))
	for _, entry := range endpointEntries {
		var endpoint fhir.Endpoint
		if err := json.Unmarshal(entry.Resource, &endpoint); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("skipping unparseable provider Endpoint: %s", err.Error()))
			continue
		}
		if endpoint.Id == nil {
			continue
		}
		endpointsByID[*endpoint.Id] = endpoint
	}

	for _, entry := range orgEntries {
		var org fhir.Organization
		if err := json.Unmarshal(entry.Resource, &org); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("skipping unparseable provider Organization: %s", err.Error()))
			continue
		}
		authoritativeUra := organizationURA(org)
		for _, ref := range org.Endpoint {
			if ref.Reference == nil {
				continue
			}
			_, id, ok := fhirutil.SplitReference(*ref.Reference)
			if !ok {
				continue
			}
			endpoint, found := endpointsByID[id]
			if !found || !isMCSDDirectoryEndpoint(endpoint) {
				continue
			}
			if endpoint.Address == "" {
				continue
			}
			directoryID := directoryKey(endpoint.Address, authoritativeUra)
			if _, err := r.registrar.Upsert(ctx, directoryID, endpoint.Address, directory.OriginProvider); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("failed to register provider directory %s: %s", endpoint.Address, err.Error()))
				continue
			}
			if err := r.churn.MarkSeen(ctx, directoryID, now); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("failed to record churn for %s: %s", directoryID, err.Error()))
				continue
			}
			slog.DebugContext(ctx, "Discovered provider directory", logging.FHIRServer(endpoint.Address))
			report.Discovered++
		}
	}

	if r.removeAfter > 0 {
		stale, err := r.churn.ListStale(ctx, now.Add(-r.removeAfter))
		if err != nil {
			return report, fmt.Errorf("list stale provider directories: %w", err)
		}
		for _, rec := range stale {
			if err := r.registrar.ScheduleDelete(ctx, rec.DirectoryID, now); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("failed to schedule delete for %s: %s", rec.DirectoryID, err.Error()))
				continue
			}
			if err := r.churn.MarkRemoved(ctx, rec.DirectoryID, now); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("failed to mark %s removed: %s", rec.DirectoryID, err.Error()))
				continue
			}
			report.Removed++
		}
	}

	return report, nil
}

func organizationURA(org fhir.Organization) string {
	for _, id := range org.Identifier {
		if id.System != nil && *id.System == uraNamingSystem && id.Value != nil {
			return *id.Value
		}
	}
	return ""
}

func isMCSDDirectoryEndpoint(endpoint fhir.Endpoint) bool {
	for _, cc := range endpoint.PayloadType {
		for _, c := range cc.Coding {
			if c.System != nil && *c.System == mcsdPayloadTypeSystem && c.Code != nil && *c.Code == mcsdPayloadTypeCode {
				return true
			}
		}
	}
	return false
}

// directoryKey derives a stable directory registry id from the endpoint
// address and authoritative URA, so the same provider-discovered directory
// keeps the same identity across refresh cycles.
func directoryKey(endpointAddress, authoritativeUra string) string {
	if authoritativeUra == "" {
		return endpointAddress
	}
	return endpointAddress + "|" + authoritativeUra
}
