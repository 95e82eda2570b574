// Package logging provides slog attribute helpers shared by every component,
// so log lines look the same regardless of which part of the sync engine emits them.
package logging

import (
	"fmt"
	"log/slog"
)

// Error returns a slog attribute for an error value, or a no-op attribute if err is nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Directory returns a slog attribute identifying a directory by id.
func Directory(id string) slog.Attr {
	return slog.String("directory_id", id)
}

// FHIRServer returns a slog attribute identifying a remote FHIR base URL.
func FHIRServer(baseURL string) slog.Attr {
	return slog.String("fhir_base_url", baseURL)
}

// ResourceType returns a slog attribute for an FHIR resource type.
func ResourceType(rtype string) slog.Attr {
	return slog.String("resource_type", rtype)
}

// Component returns a slog attribute naming a component by its Go type.
func Component(cmp any) slog.Attr {
	return slog.String("component", fmt.Sprintf("%T", cmp))
}
