package fhirsink

import (
	"testing"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func bundleWithStatus(status string) fhir.Bundle {
	return fhir.Bundle{
		Entry: []fhir.BundleEntry{
			{Response: &fhir.BundleEntryResponse{Status: status}},
		},
	}
}

func TestCheckEntryResponse_Created(t *testing.T) {
	require.NoError(t, checkEntryResponse(bundleWithStatus("201 Created"), "Organization", "PUT"))
}

func TestCheckEntryResponse_Updated(t *testing.T) {
	require.NoError(t, checkEntryResponse(bundleWithStatus("200 OK"), "Organization", "PUT"))
}

func TestCheckEntryResponse_DeleteNotFoundIsSuccess(t *testing.T) {
	require.NoError(t, checkEntryResponse(bundleWithStatus("404 Not Found"), "Organization", "DELETE"))
}

func TestCheckEntryResponse_PutNotFoundIsFailure(t *testing.T) {
	err := checkEntryResponse(bundleWithStatus("404 Not Found"), "Organization", "PUT")
	assert.Error(t, err)
}

func TestCheckEntryResponse_AuthRejected(t *testing.T) {
	err := checkEntryResponse(bundleWithStatus("403 Forbidden"), "Organization", "PUT")
	assert.Equal(t, syncerr.AuthRejected, syncerr.KindOf(err))
}

func TestCheckEntryResponse_NoEntries(t *testing.T) {
	err := checkEntryResponse(fhir.Bundle{}, "Organization", "PUT")
	assert.Error(t, err)
}
