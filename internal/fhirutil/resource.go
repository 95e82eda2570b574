// Package fhirutil holds small, schema-less helpers for working with FHIR
// resources as generic JSON: extracting identity/version info, building
// deterministic source URLs, and splitting and classifying reference
// strings. The recursive walk over the untyped JSON tree lives in
// internal/rewrite, not here.
package fhirutil

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResourceInfo is the subset of a FHIR resource's identity fields the sync
// engine needs, extracted without decoding into a full typed model.
type ResourceInfo struct {
	ResourceType string
	ID           string
	VersionID    string
	LastUpdated  *time.Time
}

// ExtractResourceInfo reads resourceType/id/meta.versionId/meta.lastUpdated
// from a raw FHIR resource body.
func ExtractResourceInfo(raw json.RawMessage) (ResourceInfo, error) {
	var envelope struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
		Meta         *struct {
			VersionID   string `json:"versionId"`
			LastUpdated string `json:"lastUpdated"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ResourceInfo{}, fmt.Errorf("parse-invalid-resource: %w", err)
	}
	if envelope.ResourceType == "" {
		return ResourceInfo{}, fmt.Errorf("parse-invalid-resource: missing resourceType")
	}
	info := ResourceInfo{
		ResourceType: envelope.ResourceType,
		ID:           envelope.ID,
	}
	if envelope.Meta != nil {
		info.VersionID = envelope.Meta.VersionID
		if envelope.Meta.LastUpdated != "" {
			if t, err := time.Parse(time.RFC3339, envelope.Meta.LastUpdated); err == nil {
				info.LastUpdated = &t
			}
		}
	}
	return info, nil
}

// BuildSourceURL joins a FHIR base URL with a relative resource path
// ("ResourceType/id" or "ResourceType" alone), normalizing the single slash
// between them regardless of whether the base URL already ends in one.
func BuildSourceURL(baseURL string, pathParts ...string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("empty base URL")
	}
	trimmed := strings.TrimRight(baseURL, "/")
	joined := strings.Join(pathParts, "/")
	joined = strings.TrimLeft(joined, "/")
	if joined == "" {
		return trimmed, nil
	}
	return trimmed + "/" + joined, nil
}

// SplitReference splits a relative FHIR reference "ResourceType/id" into its
// two parts. ok is false if the reference isn't in that exact shape.
func SplitReference(reference string) (resourceType, id string, ok bool) {
	parts := strings.Split(reference, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// IsAbsoluteURL reports whether reference looks like an absolute URL rather
// than a relative "ResourceType/id" reference.
func IsAbsoluteURL(reference string) bool {
	return strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://")
}

// OriginMatches reports whether the given absolute URL's scheme+host matches
// baseURL's scheme+host (i.e. it originates from the same FHIR server).
func OriginMatches(absoluteURL, baseURL string) bool {
	a := origin(absoluteURL)
	b := origin(baseURL)
	return a != "" && a == b
}

func origin(raw string) string {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return ""
	}
	rest := raw[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	scheme := raw[:idx]
	return strings.ToLower(scheme) + "://" + strings.ToLower(rest)
}
