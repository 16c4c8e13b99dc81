package transform

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

func findingFromRaw(t *testing.T, raw string) *engine.Finding {
	t.Helper()
	f := &engine.Finding{Raw: []byte(raw)}
	require.NoError(t, json.Unmarshal([]byte(raw), f))
	return f
}

func TestTransformSetsRequiredFieldsAlways(t *testing.T) {
	tr := New(false, logrus.New())
	f := findingFromRaw(t, `{"id":"f-1","accountId":"111","region":"us-east-1","type":"Recon:EC2/PortProbeUnprotectedPort","severity":5.5,"title":"t","description":"d"}`)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Equal(t, "f-1", rec.FindingId)
	require.Equal(t, "111", rec.AccountId)
	require.Equal(t, "us-east-1", rec.Region)
	require.NotEmpty(t, rec.TimeGenerated)
	require.JSONEq(t, string(f.Raw), rec.RawJson)
	require.Empty(t, rec.Service, "normalization disabled: nested-path fields stay empty")
}

func TestTransformExtractsNestedFieldsWhenNormalizationEnabled(t *testing.T) {
	tr := New(true, logrus.New())
	raw := `{
		"id": "f-2",
		"accountId": "111",
		"region": "us-east-1",
		"type": "UnauthorizedAccess:EC2/SSHBruteForce",
		"severity": 8.0,
		"resource": {"resourceType": "Instance", "instanceDetails": {"instanceId": "i-0abc"}},
		"service": {
			"serviceName": "guardduty",
			"count": 3,
			"archived": false,
			"action": {
				"actionType": "NETWORK_CONNECTION",
				"networkConnectionAction": {
					"remoteIpDetails": {"ipAddressV4": "1.2.3.4", "country": {"countryName": "Freedonia"}}
				}
			}
		}
	}`
	f := findingFromRaw(t, raw)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Equal(t, "Instance", rec.ResourceType)
	require.Equal(t, "i-0abc", rec.InstanceId)
	require.Equal(t, "guardduty", rec.Service)
	require.Equal(t, "NETWORK_CONNECTION", rec.ActionType)
	require.Equal(t, "1.2.3.4", rec.RemoteIpAddress)
	require.Equal(t, "Freedonia", rec.RemoteIpCountry)
	require.Equal(t, "3", rec.Count)
	require.Equal(t, "false", rec.Archived)
}

func TestTransformPriorityFallsBackToDnsThenPortProbe(t *testing.T) {
	tr := New(true, logrus.New())
	raw := `{
		"id": "f-3",
		"service": {
			"action": {
				"portProbeAction": {
					"portProbeDetails": [
						{"remoteIpDetails": {"ipAddressV4": "9.9.9.9", "country": {"countryName": "Ruritania"}}}
					]
				}
			}
		}
	}`
	f := findingFromRaw(t, raw)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Equal(t, "9.9.9.9", rec.RemoteIpAddress)
	require.Equal(t, "Ruritania", rec.RemoteIpCountry)
}

func TestTransformMissingPathYieldsEmptyString(t *testing.T) {
	tr := New(true, logrus.New())
	f := findingFromRaw(t, `{"id":"f-4"}`)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Empty(t, rec.Service)
	require.Empty(t, rec.RemoteIpAddress)
}

func TestTransformNormalizesDateToRFC3339(t *testing.T) {
	tr := New(false, logrus.New())
	f := findingFromRaw(t, `{"id":"f-5","createdAt":"2024-03-01T10:00:00.000Z"}`)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T10:00:00Z", rec.CreatedAt)
}

func TestTransformUnparseableDateYieldsEmptyString(t *testing.T) {
	tr := New(false, logrus.New())
	f := findingFromRaw(t, `{"id":"f-6","createdAt":"not-a-date"}`)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Empty(t, rec.CreatedAt)
}

func TestTransformPreservesUnicodeBitExactInRawJson(t *testing.T) {
	tr := New(false, logrus.New())
	raw := `{"id":"f-7","title":"ééé 日本語"}`
	f := findingFromRaw(t, raw)

	rec, err := tr.Transform(f)
	require.NoError(t, err)
	require.Equal(t, raw, rec.RawJson)
}
