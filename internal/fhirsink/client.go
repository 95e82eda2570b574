// Package fhirsink implements the Local FHIR Writer (C4): idempotent writes
// of already-rewritten resources into the local addressing FHIR store, keyed
// by the stable local ids the resource-map store hands out.
package fhirsink

import (
	"context"
	"encoding/json"
	"strings"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

// Client writes into one local FHIR store, addressing resources directly by
// the update-client-assigned local id rather than through conditional
// `_source` matching: the caller already resolved that id via the
// resource-map store (C2), so the write is a plain `{type}/{id}` PUT/DELETE.
type Client struct {
	fhir fhirclient.Client
}

// New wraps an already-configured go-fhir-client pointed at the local store.
func New(fhirClient fhirclient.Client) *Client {
	return &Client{fhir: fhirClient}
}

// Put idempotently writes body as resourceType/localID. Both a create and an
// update come through the same conditional-free PUT, mirroring a FHIR
// server's own update-or-create semantics.
func (c *Client) Put(ctx context.Context, resourceType, localID string, body json.RawMessage) error {
	tx := fhir.Bundle{
		Type: fhir.BundleTypeTransaction,
		Entry: []fhir.BundleEntry{
			{
				Resource: body,
				Request: &fhir.BundleEntryRequest{
					Method: fhir.HTTPVerbPUT,
					Url:    resourceType + "/" + localID,
				},
			},
		},
	}
	var result fhir.Bundle
	if err := c.fhir.CreateWithContext(ctx, tx, &result, fhirclient.AtPath("/")); err != nil {
		return syncerr.FromHTTPError(err)
	}
	return checkEntryResponse(result, resourceType, "PUT")
}

// Delete idempotently removes resourceType/localID. A 404 response (already
// gone) is treated as success, matching spec.md §4.7's idempotent-delete rule.
func (c *Client) Delete(ctx context.Context, resourceType, localID string) error {
	tx := fhir.Bundle{
		Type: fhir.BundleTypeTransaction,
		Entry: []fhir.BundleEntry{
			{
				Request: &fhir.BundleEntryRequest{
					Method: fhir.HTTPVerbDELETE,
					Url:    resourceType + "/" + localID,
				},
			},
		},
	}
	var result fhir.Bundle
	if err := c.fhir.CreateWithContext(ctx, tx, &result, fhirclient.AtPath("/")); err != nil {
		return syncerr.FromHTTPError(err)
	}
	return checkEntryResponse(result, resourceType, "DELETE")
}

func checkEntryResponse(result fhir.Bundle, resourceType, op string) error {
	if len(result.Entry) == 0 || result.Entry[0].Response == nil {
		return syncerr.Newf(syncerr.TransientNetwork, "local store returned no response for %s %s", op, resourceType)
	}
	status := result.Entry[0].Response.Status
	switch {
	case strings.HasPrefix(status, "200"), strings.HasPrefix(status, "201"), strings.HasPrefix(status, "204"):
		return nil
	case strings.HasPrefix(status, "404") && op == "DELETE":
		return nil
	case strings.HasPrefix(status, "401"), strings.HasPrefix(status, "403"):
		return syncerr.Newf(syncerr.AuthRejected, "local store rejected %s %s: %s", op, resourceType, status)
	default:
		return syncerr.Newf(syncerr.TransientNetwork, "local store returned unexpected status for %s %s: %s", op, resourceType, status)
	}
}
