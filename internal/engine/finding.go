// Package engine holds the data model shared by the stages of the ingestion
// engine (source, decode, dedup, transform, batch, sink, dead-letter); the
// pipeline controller itself lives in internal/controller.
package engine

import "encoding/json"

// Finding is a single GuardDuty finding (schema version "2.0") decoded from
// one line of a source object. Only the fields the engine reasons about are
// named; everything else travels in Raw for verbatim reproduction.
type Finding struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Region      string          `json:"region"`
	Partition   string          `json:"partition"`
	Type        string          `json:"type"`
	Severity    float64         `json:"severity"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Resource    json.RawMessage `json:"resource,omitempty"`
	Service     json.RawMessage `json:"service,omitempty"`

	// Raw is the verbatim bytes of the decoded JSON line. It is always
	// preserved for auditability and round-trips into TargetRecord.RawJson.
	Raw json.RawMessage `json:"-"`
}

// Canonicalize returns a deterministic JSON encoding of the finding (object
// keys sorted, no insignificant whitespace), used as the input to the
// content-hash deduplication strategy. encoding/json already sorts map keys,
// so marshaling the raw value through a generic map gives us canonical form
// without hand-rolling a key sort.
func (f *Finding) Canonicalize() ([]byte, error) {
	var generic interface{}
	if err := json.Unmarshal(f.Raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
