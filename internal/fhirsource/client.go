// Package fhirsource implements the FHIR Directory Client (C3): the
// read-only transport to a remote mCSD directory, covering search,
// history-since-watermark, single-resource reads, and capability
// discovery, with retry and the 410-Gone-triggers-snapshot-mode
// fallback described in spec.md §4.3/§4.4.
package fhirsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/sethvargo/go-retry"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

// SearchPageSize bounds each search/history page, so behavior is deterministic
// across directory servers regardless of their own defaults.
const SearchPageSize = 100

// MaxEntries caps the number of entries a single pass accumulates for one
// resource type, protecting both this process and the remote directory from
// an unbounded response.
const MaxEntries = 1000

// ErrHistoryTooOld is returned by History when the remote directory responds
// with HTTP 410 Gone, meaning the requested watermark has aged out of its
// history log. Callers fall back to a full Search (snapshot mode).
var ErrHistoryTooOld = fmt.Errorf("fhirsource: history too old, snapshot required")

// ErrTooManyEntries is returned when a resource type yields more entries than
// MaxEntries in a single pass.
var ErrTooManyEntries = fmt.Errorf("fhirsource: too many entries in one pass")

// Client reads from one remote mCSD directory's FHIR endpoint.
type Client struct {
	fhir    fhirclient.Client
	backoff retry.Backoff
}

// New wraps an already-configured go-fhir-client as a directory source. The
// backoff governs retries of failures syncerr.IsRetryableHTTP accepts:
// responses naming 400, 401, 403, 404, 410 or 422 are not retried, while
// other statuses (other 4xx codes included) are. A nil backoff disables
// retries entirely.
func New(fhirClient fhirclient.Client, backoff retry.Backoff) *Client {
	return &Client{fhir: fhirClient, backoff: backoff}
}

// DefaultBackoff returns a capped exponential backoff suitable for polling a
// remote directory: the first attempt plus up to five retries, waiting 250ms
// before the first retry and doubling each time.
func DefaultBackoff() retry.Backoff {
	b, _ := retry.NewExponential(250 * time.Millisecond) // error only for a non-positive base
	return retry.WithMaxRetries(5, b)
}

// CapabilityStatement is a minimal, hand-decoded projection of a FHIR
// CapabilityStatement: just enough of rest.resource[].interaction[].code to
// answer the history-vs-search question (spec.md's Open Question 1), read
// directly off the wire rather than through the generated resource model.
type CapabilityStatement struct {
	Rest []struct {
		Resource []struct {
			Type        string `json:"type"`
			Interaction []struct {
				Code string `json:"code"`
			} `json:"interaction"`
		} `json:"resource"`
	} `json:"rest"`
}

// Capability fetches the remote directory's CapabilityStatement, used to
// decide per resource type whether _history is authoritative for a given
// resource type (spec.md's history-vs-search Open Question).
func (c *Client) Capability(ctx context.Context) (CapabilityStatement, error) {
	var cs CapabilityStatement
	err := c.do(ctx, func() error {
		return c.fhir.ReadWithContext(ctx, "metadata", &cs)
	})
	if err != nil {
		return CapabilityStatement{}, syncerr.FromHTTPError(err)
	}
	return cs, nil
}

// SupportsHistory reports whether the capability statement advertises the
// history-type interaction for resourceType on any rest/resource entry of that type.
func SupportsHistory(cs CapabilityStatement, resourceType string) bool {
	for _, rest := range cs.Rest {
		for _, res := range rest.Resource {
			if res.Type != resourceType {
				continue
			}
			for _, interaction := range res.Interaction {
				if interaction.Code == "history-type" {
					return true
				}
			}
		}
	}
	return false
}

// Search performs a full GET search (snapshot mode), paginating until
// exhausted, and returns every entry plus the first page's Bundle (for its
// meta.lastUpdated, used as the next watermark on a later incremental pass).
func (c *Client) Search(ctx context.Context, resourceType string, params url.Values) ([]fhir.BundleEntry, fhir.Bundle, error) {
	return c.paginate(ctx, resourceType, params, false)
}

// History performs an incremental _history search since the given watermark.
// A zero since performs an unbounded history query (full history). Returns
// ErrHistoryTooOld if the remote directory answers with 410 Gone.
func (c *Client) History(ctx context.Context, resourceType string, since time.Time) ([]fhir.BundleEntry, fhir.Bundle, error) {
	params := url.Values{"_count": []string{strconv.Itoa(SearchPageSize)}}
	if !since.IsZero() {
		params.Set("_since", since.UTC().Format(time.RFC3339Nano))
	}
	entries, bundle, err := c.paginate(ctx, resourceType, params, true)
	if err != nil {
		if syncerr.IsGone(err) {
			return nil, fhir.Bundle{}, ErrHistoryTooOld
		}
		return nil, fhir.Bundle{}, err
	}
	return entries, bundle, nil
}

// Read fetches a single resource by type and id.
func (c *Client) Read(ctx context.Context, resourceType, id string) (fhir.BundleEntry, error) {
	var raw map[string]any
	err := c.do(ctx, func() error {
		return c.fhir.ReadWithContext(ctx, resourceType+"/"+id, &raw)
	})
	if err != nil {
		return fhir.BundleEntry{}, syncerr.FromHTTPError(err)
	}
	body, err := marshalEntryResource(raw)
	if err != nil {
		return fhir.BundleEntry{}, syncerr.New(syncerr.ParseInvalidResource, err)
	}
	return fhir.BundleEntry{Resource: body}, nil
}

func marshalEntryResource(raw map[string]any) (json.RawMessage, error) {
	return json.Marshal(raw)
}

func (c *Client) paginate(ctx context.Context, resourceType string, params url.Values, history bool) ([]fhir.BundleEntry, fhir.Bundle, error) {
	path := resourceType
	if history {
		path = resourceType + "/_history"
	}

	p := url.Values{}
	for k, v := range params {
		p[k] = v
	}
	if p.Get("_count") == "" {
		p.Set("_count", strconv.Itoa(SearchPageSize))
	}

	var first fhir.Bundle
	err := c.do(ctx, func() error {
		return c.fhir.SearchWithContext(ctx, "", p, &first, fhirclient.AtPath(path))
	})
	if err != nil {
		return nil, fhir.Bundle{}, syncerr.FromHTTPError(err)
	}

	entries := make([]fhir.BundleEntry, 0, len(first.Entry))
	err = fhirclient.Paginate(ctx, c.fhir, first, func(page *fhir.Bundle) (bool, error) {
		entries = append(entries, page.Entry...)
		if len(entries) > MaxEntries {
			return false, ErrTooManyEntries
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrTooManyEntries) {
			return nil, fhir.Bundle{}, err
		}
		return nil, fhir.Bundle{}, syncerr.FromHTTPError(err)
	}
	return entries, first, nil
}

// do runs op, retrying with c.backoff every failure syncerr.IsRetryableHTTP
// accepts. Auth failures and 400/404/410/422 responses are never retried;
// other 4xx statuses are.
func (c *Client) do(ctx context.Context, op func() error) error {
	if c.backoff == nil {
		return op()
	}
	return retry.Do(ctx, c.backoff, func(ctx context.Context) error {
		err := op()
		if err == nil {
			return nil
		}
		if syncerr.IsRetryableHTTP(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
