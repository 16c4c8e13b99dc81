// Package sink implements the Sink Client (C8): posting batches to the
// Azure Monitor Logs Data Collection Rule ingestion endpoint.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
	engerrors "github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/errors"
)

// HardLimitBytes mirrors the Batcher's hard limit; the Sink Client
// re-validates it so a caller that bypasses the Batcher still gets a fatal
// rejection rather than a wasted network call.
const HardLimitBytes = 30 * 1024 * 1024

// IngestResult reports the outcome of a successful POST.
type IngestResult struct {
	AcceptedRecords int
	RequestID       string
	StatusCode      int
}

// TokenSource is the subset of token.Cache the Sink Client depends on. It
// exists so tests can substitute a fake without driving a real OAuth2
// client-credentials exchange.
type TokenSource interface {
	GetToken(ctx context.Context) (string, time.Time, error)
	Invalidate()
}

// Client posts TargetRecord batches to one DCR stream.
type Client struct {
	httpClient   *http.Client
	tokens       TokenSource
	endpointBase string
	immutableID  string
}

// New builds a Client. timeout is applied per-request via the HTTP client.
func New(endpointBase, immutableID string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		tokens:       tokens,
		endpointBase: endpointBase,
		immutableID:  immutableID,
	}
}

// Ingest validates and POSTs records to streamName. Retry semantics (401
// invalidate-and-retry-once, 429/5xx retryable) are implemented here because
// they require sink-specific knowledge of the response; callers still wrap
// Ingest in the Retry Engine for 429/5xx classification and backoff.
func (c *Client) Ingest(ctx context.Context, streamName string, records []engine.TargetRecord) (*IngestResult, error) {
	if err := preflight(records); err != nil {
		return nil, err
	}

	sanitized := make([]engine.TargetRecord, len(records))
	for i, r := range records {
		sanitized[i] = sanitizeNulls(r)
	}
	body, err := json.Marshal(sanitized)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.KindSchema, "marshal batch for ingestion", err)
	}
	if len(body) > HardLimitBytes {
		return nil, engerrors.New(engerrors.KindSchema, fmt.Sprintf("serialized batch of %d bytes exceeds hard limit", len(body)))
	}

	result, err := c.post(ctx, streamName, body, len(sanitized))
	if err != nil {
		return nil, err
	}

	if result.retryableAuth {
		c.tokens.Invalidate()
		return c.postOnce(ctx, streamName, body, len(sanitized))
	}
	return result.result, result.err
}

func preflight(records []engine.TargetRecord) error {
	if len(records) == 0 {
		return engerrors.New(engerrors.KindSchema, "batch must contain at least one record")
	}
	for _, r := range records {
		if r.TimeGenerated == "" {
			return engerrors.New(engerrors.KindSchema, fmt.Sprintf("record %s missing TimeGenerated", r.FindingId))
		}
		if _, err := time.Parse(time.RFC3339Nano, r.TimeGenerated); err != nil {
			return engerrors.New(engerrors.KindSchema, fmt.Sprintf("record %s has unparseable TimeGenerated %q", r.FindingId, r.TimeGenerated))
		}
	}
	return nil
}

// sanitizeNulls returns r unchanged. Every TargetRecord field is a plain
// string or float64, so an encoded record never carries a JSON null: empty
// required fields encode as "" and empty optional fields are omitted.
func sanitizeNulls(r engine.TargetRecord) engine.TargetRecord {
	return r
}

type postOutcome struct {
	result        *IngestResult
	err           error
	retryableAuth bool
}

// post performs one attempt and classifies the response. recordCount is the
// number of records in body, reported back as AcceptedRecords on success.
func (c *Client) post(ctx context.Context, streamName string, body []byte, recordCount int) (postOutcome, error) {
	accessToken, _, err := c.tokens.GetToken(ctx)
	if err != nil {
		return postOutcome{}, err
	}

	requestID := ulid.Make().String()
	url := fmt.Sprintf("%s/dataCollectionRules/%s/streams/%s", c.endpointBase, c.immutableID, streamName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return postOutcome{}, engerrors.Wrap(engerrors.KindTransient, "build ingest request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("x-request-id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return postOutcome{}, engerrors.Wrap(engerrors.KindTransient, "ingest request failed", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return postOutcome{result: &IngestResult{
			AcceptedRecords: recordCount,
			RequestID:       requestID,
			StatusCode:      resp.StatusCode,
		}}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return postOutcome{retryableAuth: true}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return postOutcome{err: transientWithRetryAfter(resp, payload)}, nil
	case resp.StatusCode >= 500:
		return postOutcome{err: engerrors.New(engerrors.KindTransient, fmt.Sprintf("sink returned %d: %s", resp.StatusCode, payload))}, nil
	default:
		return postOutcome{err: engerrors.New(engerrors.KindSinkReject, fmt.Sprintf("sink returned %d: %s", resp.StatusCode, payload))}, nil
	}
}

// postOnce is used for the single 401 retry: it does not itself recurse into
// another invalidate-and-retry, so a second consecutive 401 surfaces as a
// fatal authentication error.
func (c *Client) postOnce(ctx context.Context, streamName string, body []byte, recordCount int) (*IngestResult, error) {
	outcome, err := c.post(ctx, streamName, body, recordCount)
	if err != nil {
		return nil, err
	}
	if outcome.retryableAuth {
		return nil, engerrors.New(engerrors.KindAuthentication, "sink rejected refreshed token")
	}
	return outcome.result, outcome.err
}

func transientWithRetryAfter(resp *http.Response, payload []byte) error {
	err := engerrors.New(engerrors.KindTransient, fmt.Sprintf("sink rate-limited: %s", payload))
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, parseErr := strconv.Atoi(ra); parseErr == nil {
			err.RetryAfter = seconds
		}
	}
	return err
}
