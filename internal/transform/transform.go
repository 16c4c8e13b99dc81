// Package transform implements the Transformer (C4): mapping a Finding onto
// the flat TargetRecord schema, with optional extraction of nested fields
// via a fixed path map.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

// Transformer maps findings to TargetRecords. It is stateless and safe for
// concurrent use by multiple object workers.
type Transformer struct {
	normalize bool
	logger    *logrus.Logger
}

// New builds a Transformer. When normalize is false, only the required
// fields plus Title, Description, CreatedAt and UpdatedAt are populated; the
// fields extracted from nested paths stay empty.
func New(normalize bool, logger *logrus.Logger) *Transformer {
	return &Transformer{normalize: normalize, logger: logger}
}

// Transform maps f onto a TargetRecord. It never returns an error for
// malformed optional data (those degrade to empty string with a logged
// warning); it returns an error only when normalization is enabled and the
// raw finding cannot be re-parsed as a JSON object, which should not happen
// for a finding the decoder already parsed.
func (t *Transformer) Transform(f *engine.Finding) (engine.TargetRecord, error) {
	rec := engine.TargetRecord{
		FindingId: f.ID,
		AccountId: f.AccountID,
		Region:    f.Region,
		Severity:  f.Severity,
		Type:      f.Type,
		RawJson:   string(f.Raw),
	}

	rec.TimeGenerated = time.Now().UTC().Format(time.RFC3339Nano)

	rec.Title = f.Title
	rec.Description = f.Description
	rec.CreatedAt = t.normalizeDate(f.ID, "createdAt", f.CreatedAt)
	rec.UpdatedAt = t.normalizeDate(f.ID, "updatedAt", f.UpdatedAt)

	if !t.normalize {
		return rec, nil
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(f.Raw, &generic); err != nil {
		// The decoder already proved this unmarshals as an object with an
		// id; a failure here would be a logic bug, not bad input.
		return rec, fmt.Errorf("transform: re-parse finding %s for normalization: %w", f.ID, err)
	}

	rec.Service = firstNonEmpty(generic, fieldPaths["Service"])
	rec.ResourceType = firstNonEmpty(generic, fieldPaths["ResourceType"])
	rec.InstanceId = firstNonEmpty(generic, fieldPaths["InstanceId"])
	rec.ActionType = firstNonEmpty(generic, fieldPaths["ActionType"])
	rec.ThreatNames = firstNonEmpty(generic, fieldPaths["ThreatNames"])
	rec.RemoteIpAddress = firstNonEmpty(generic, fieldPaths["RemoteIpAddress"])
	rec.RemoteIpCountry = firstNonEmpty(generic, fieldPaths["RemoteIpCountry"])
	rec.EventFirstSeen = t.normalizeDate(f.ID, "eventFirstSeen", firstNonEmpty(generic, fieldPaths["EventFirstSeen"]))
	rec.EventLastSeen = t.normalizeDate(f.ID, "eventLastSeen", firstNonEmpty(generic, fieldPaths["EventLastSeen"]))
	rec.Count = firstNonEmpty(generic, fieldPaths["Count"])
	rec.Archived = firstNonEmpty(generic, fieldPaths["Archived"])

	return rec, nil
}

// normalizeDate parses an ISO-8601 string and re-emits it canonically.
// Empty input yields "" silently; input that fails to parse yields "" and a
// logged warning (the record is still emitted; a bad date is never fatal).
func (t *Transformer) normalizeDate(findingID, field, value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC().Format(time.RFC3339Nano)
		}
	}
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"finding_id": findingID,
			"field":      field,
			"value":      value,
		}).Warn("unparseable date, emitting empty string")
	}
	return ""
}

// firstNonEmpty walks each path in priority order and returns the first
// value that resolves to a non-empty string.
func firstNonEmpty(generic map[string]interface{}, paths []string) string {
	for _, path := range paths {
		if v := walk(generic, path); v != "" {
			return v
		}
	}
	return ""
}

// walk resolves a dot-delimited path (numeric segments index arrays) against
// a generic JSON value, stringifying scalars and returning "" for anything
// missing, null, or of unexpected shape.
func walk(root interface{}, path string) string {
	segments := strings.Split(path, ".")
	cur := root
	for _, seg := range segments {
		if cur == nil {
			return ""
		}
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return ""
			}
			cur = arr[idx]
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur, ok = m[seg]
		if !ok {
			return ""
		}
	}
	return stringify(cur)
}

// stringify normalizes a resolved leaf value to the record's string
// representation. Nulls and missing values normalize to "" elsewhere;
// stringify itself only needs to handle the scalar JSON kinds.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
