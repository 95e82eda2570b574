// Package app wires every component together into the running update
// client process, the way cmd/start.go assembles and drives the teacher's
// component.Lifecycle slice.
package app

import (
	"context"
	"fmt"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/sethvargo/go-retry"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/cache"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirsource"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/pipeline"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/resourcemap"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/rewrite"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/validate"
)

// DirectoryLookup is the slice of C1 the updater needs to resolve a
// directory's remote endpoint before it can talk to it.
type DirectoryLookup interface {
	Get(ctx context.Context, id string) (directory.Record, error)
}

// ClientFactory builds a go-fhir-client pointed at baseURL, sharing
// whatever transport (auth, tracing) the caller already configured.
type ClientFactory func(baseURL *url.URL) fhirclient.Client

// MultiDirectoryUpdater satisfies internal/scheduler.Updater by building a
// fresh, single-directory internal/pipeline.UpdatePipeline on every call:
// UpdatePipeline itself binds to one fixed remote source at construction
// time, but the scheduler dispatches the same Updater across every eligible
// directory, each with its own remote endpoint (spec.md §4.8).
type MultiDirectoryUpdater struct {
	directories   DirectoryLookup
	clientFor     ClientFactory
	sink          pipeline.SinkClient
	maps          *resourcemap.Store
	registry      pipeline.Registry
	localBaseURL  string
	backoff       retry.Backoff
	resourceTypes []string
	cache         cache.Store

	strictValidation bool
}

// NewMultiDirectoryUpdater builds a MultiDirectoryUpdater. A nil backoff
// falls back to fhirsource.DefaultBackoff. A nil cache disables the
// capability-statement pre-flight (every resource type is attempted via
// _history, falling back to search on a 410 the way pipeline.Run always
// can); a configured cache enables it, so a directory that never supports
// _history for a given resource type stops paying for the failed attempt.
func NewMultiDirectoryUpdater(
	directories DirectoryLookup,
	clientFor ClientFactory,
	sink pipeline.SinkClient,
	maps *resourcemap.Store,
	registry pipeline.Registry,
	localBaseURL string,
	backoff retry.Backoff,
	resourceTypes []string,
	cch cache.Store,
	strictValidation bool,
) *MultiDirectoryUpdater {
	if backoff == nil {
		backoff = fhirsource.DefaultBackoff()
	}
	return &MultiDirectoryUpdater{
		directories:      directories,
		clientFor:        clientFor,
		sink:             sink,
		maps:             maps,
		registry:         registry,
		localBaseURL:     localBaseURL,
		backoff:          backoff,
		resourceTypes:    resourceTypes,
		cache:            cch,
		strictValidation: strictValidation,
	}
}

// Run resolves directoryID's remote endpoint and runs one update pass
// against it.
func (u *MultiDirectoryUpdater) Run(ctx context.Context, directoryID string, watermark time.Time) (pipeline.Report, error) {
	rec, err := u.directories.Get(ctx, directoryID)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("resolve directory %s: %w", directoryID, err)
	}

	baseURL, err := url.Parse(rec.EndpointAddress)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("parse endpoint address for directory %s: %w", directoryID, err)
	}

	client := fhirsource.New(u.clientFor(baseURL), u.backoff)
	var source pipeline.SourceClient = client
	if u.cache != nil {
		source = &historyAwareSource{client: client, capability: cache.WrapCapability(client, u.cache, directoryID)}
	}

	rewriter := rewrite.New(u.maps, directoryID, rec.EndpointAddress, u.localBaseURL)
	resourceTypes := u.resourceTypes
	if resourceTypes == nil {
		resourceTypes = pipeline.ResourceTypes
	}
	p := pipeline.New(source, u.sink, u.maps, rewriter, u.registry, u.resourceTypes)
	if u.strictValidation {
		p = p.WithStrictValidation(validate.Rules{AllowedResourceTypes: resourceTypes})
	}
	return p.Run(ctx, directoryID, watermark)
}

// capabilitySource is the slice of cache.CapabilitySource a
// historyAwareSource consults; narrowed to a local interface so it can be
// substituted with a fake in tests without needing a real cache-backed one.
type capabilitySource interface {
	Capability(ctx context.Context) (fhirsource.CapabilityStatement, error)
}

// historyAwareSource consults a directory's (cached) capability statement
// before attempting _history, so a resource type the directory never
// advertises _history support for goes straight to search (bounded by
// _lastUpdated=ge{since} when a watermark is set) instead of paying for a
// doomed history call on every pass.
type historyAwareSource struct {
	client     pipeline.SourceClient
	capability capabilitySource
}

func (s *historyAwareSource) Search(ctx context.Context, resourceType string, params url.Values) ([]fhir.BundleEntry, fhir.Bundle, error) {
	return s.client.Search(ctx, resourceType, params)
}

func (s *historyAwareSource) History(ctx context.Context, resourceType string, since time.Time) ([]fhir.BundleEntry, fhir.Bundle, error) {
	cs, err := s.capability.Capability(ctx)
	if err == nil && !fhirsource.SupportsHistory(cs, resourceType) {
		params := url.Values{}
		if !since.IsZero() {
			params.Set("_lastUpdated", "ge"+since.UTC().Format(time.RFC3339Nano))
		}
		return s.client.Search(ctx, resourceType, params)
	}
	return s.client.History(ctx, resourceType, since)
}
