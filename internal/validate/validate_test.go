package validate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

func TestValidate_RejectsDisallowedResourceType(t *testing.T) {
	err := Validate(Rules{AllowedResourceTypes: []string{"Organization"}}, "Patient", json.RawMessage(`{"resourceType":"Patient"}`))
	require.Error(t, err)
	assert.Equal(t, syncerr.ValidationFailed, syncerr.KindOf(err))
}

func TestValidate_RejectsMismatchedResourceType(t *testing.T) {
	err := Validate(Rules{}, "Organization", json.RawMessage(`{"resourceType":"Location"}`))
	require.Error(t, err)
	assert.Equal(t, syncerr.ValidationFailed, syncerr.KindOf(err))
}

func TestValidate_OrganizationRequiresIdentifierOrName(t *testing.T) {
	err := Validate(Rules{}, "Organization", json.RawMessage(`{"resourceType":"Organization"}`))
	require.Error(t, err)

	err = Validate(Rules{}, "Organization", json.RawMessage(`{"resourceType":"Organization","name":"Example Clinic"}`))
	assert.NoError(t, err)
}

func TestValidate_EndpointRequiresAddressAndPayloadType(t *testing.T) {
	err := Validate(Rules{}, "Endpoint", json.RawMessage(`{"resourceType":"Endpoint","address":"https://example.org/fhir"}`))
	require.Error(t, err)

	err = Validate(Rules{}, "Endpoint", json.RawMessage(`{"resourceType":"Endpoint","address":"https://example.org/fhir","payloadType":[{"coding":[{"code":"mcsd"}]}]}`))
	assert.NoError(t, err)
}

func TestValidate_PractitionerRoleRequiresPractitionerOrOrganization(t *testing.T) {
	err := Validate(Rules{}, "PractitionerRole", json.RawMessage(`{"resourceType":"PractitionerRole"}`))
	require.Error(t, err)

	err = Validate(Rules{}, "PractitionerRole", json.RawMessage(`{"resourceType":"PractitionerRole","organization":{"reference":"Organization/1"}}`))
	assert.NoError(t, err)
}

func TestValidate_OrganizationAffiliationRequiresOrganization(t *testing.T) {
	err := Validate(Rules{}, "OrganizationAffiliation", json.RawMessage(`{"resourceType":"OrganizationAffiliation"}`))
	require.Error(t, err)
}

func TestValidate_LocationAndHealthcareServiceHaveNoExtraRules(t *testing.T) {
	assert.NoError(t, Validate(Rules{}, "Location", json.RawMessage(`{"resourceType":"Location"}`)))
	assert.NoError(t, Validate(Rules{}, "HealthcareService", json.RawMessage(`{"resourceType":"HealthcareService"}`)))
}

func TestValidate_RejectsUnparseableBody(t *testing.T) {
	err := Validate(Rules{}, "Organization", json.RawMessage(`not json`))
	require.Error(t, err)
	assert.Equal(t, syncerr.ValidationFailed, syncerr.KindOf(err))
}
