// Package validate implements the structural checks the update pipeline
// enforces under strict_validation before writing a resource to the local
// store (spec.md §4.6/§7's validation-failed kind). A failing resource is
// skipped, not fatal to the pass.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

// Rules configures which resource types Validate accepts. A nil
// AllowedResourceTypes allows any type the caller already restricted its
// fetch to.
type Rules struct {
	AllowedResourceTypes []string
}

type envelope struct {
	ResourceType string `json:"resourceType"`
	Identifier   []any  `json:"identifier"`
	Name         any    `json:"name"`
	Address      any    `json:"address"`
	PayloadType  any    `json:"payloadType"`
	Practitioner any    `json:"practitioner"`
	Organization any    `json:"organization"`
}

// Validate enforces that body declares resourceType and carries the
// identifying fields a conforming mCSD resource of that type must have.
func Validate(rules Rules, resourceType string, body json.RawMessage) error {
	if len(rules.AllowedResourceTypes) > 0 && !contains(rules.AllowedResourceTypes, resourceType) {
		return syncerr.Newf(syncerr.ValidationFailed, "resource type %s is not allowed", resourceType)
	}

	var res envelope
	if err := json.Unmarshal(body, &res); err != nil {
		return syncerr.New(syncerr.ValidationFailed, fmt.Errorf("unmarshal resource: %w", err))
	}
	if res.ResourceType != resourceType {
		return syncerr.Newf(syncerr.ValidationFailed, "resource declares resourceType %q, expected %q", res.ResourceType, resourceType)
	}

	switch resourceType {
	case "Organization":
		if len(res.Identifier) == 0 && res.Name == nil {
			return syncerr.Newf(syncerr.ValidationFailed, "Organization has neither identifier nor name")
		}
	case "Endpoint":
		if res.Address == nil {
			return syncerr.Newf(syncerr.ValidationFailed, "Endpoint is missing address")
		}
		if res.PayloadType == nil {
			return syncerr.Newf(syncerr.ValidationFailed, "Endpoint is missing payloadType")
		}
	case "PractitionerRole":
		if res.Practitioner == nil && res.Organization == nil {
			return syncerr.Newf(syncerr.ValidationFailed, "PractitionerRole references neither practitioner nor organization")
		}
	case "OrganizationAffiliation":
		if res.Organization == nil {
			return syncerr.Newf(syncerr.ValidationFailed, "OrganizationAffiliation is missing organization")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
