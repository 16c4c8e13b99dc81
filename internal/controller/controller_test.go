package controller

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/batch"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/dedup"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/deadletter"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/retry"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/sink"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/transform"
)

// fakeSource serves a fixed set of objects from memory, gzip-compressing
// each JSONL body on the fly so it round-trips through the real decoder.
type fakeSource struct {
	mu       sync.Mutex
	objects  map[string]string // key -> newline-delimited JSON body
	refs     []engine.ObjectRef
	fetchErr map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{objects: make(map[string]string), fetchErr: make(map[string]error)}
}

func (s *fakeSource) add(key, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
	s.refs = append(s.refs, engine.ObjectRef{Bucket: "test-bucket", Key: key})
}

func (s *fakeSource) List(_ context.Context, _, _ string, _ int) ([]engine.ObjectRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.ObjectRef, len(s.refs))
	copy(out, s.refs)
	return out, nil
}

func (s *fakeSource) Fetch(_ context.Context, ref engine.ObjectRef) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fetchErr[ref.Key]; ok {
		return nil, err
	}
	body, ok := s.objects[ref.Key]
	if !ok {
		return nil, io.EOF
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(body))
	_ = gz.Close()
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

type transientErr struct{}

func (e *transientErr) Error() string { return "transient: simulated failure" }

// recordingDeadLetter captures everything handed to it instead of writing
// anywhere durable.
type recordingDeadLetter struct {
	mu       sync.Mutex
	received []deadletter.FailureContext
}

func (d *recordingDeadLetter) DeadLetter(_ context.Context, _ *engine.Batch, failure deadletter.FailureContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, failure)
	return nil
}

func (d *recordingDeadLetter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.received)
}

func newTestController(t *testing.T, src *fakeSource, cli Ingester, dl deadletter.Sink) (*Controller, *batch.Batcher) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := dedup.NewLRUStore(1000)
	require.NoError(t, err)
	dd := dedup.New(store, dedup.StrategyByID, time.Hour)

	xf := transform.New(false, logger)
	bat := batch.NewWithQueueDepth(10, 0, time.Hour, 4)
	re := retry.New(retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}, logger)

	c := &Controller{
		cfg: Config{
			ObjectWorkers:      2,
			IngestWorkers:      2,
			InputQueueDepth:    100,
			ShutdownDeadline:   time.Second,
			FlushCheckInterval: time.Hour,
			StreamName:         "Custom-GuardDutyFindings",
		},
		src:         src,
		dedup:       dd,
		xform:       xf,
		batcher:     bat,
		retryEngine: re,
		sinkCli:     cli,
		dlSink:      dl,
		logger:      logger,
		input:       make(chan engine.ObjectRef, 100),
		draining:    make(chan struct{}),
	}
	return c, bat
}

// stubSinkClient stands in for sink.Client in tests: the real client talks
// HTTP and owns a token.Cache, neither of which a unit test should construct.
type stubSinkClient struct {
	ingest func(context.Context, string, []engine.TargetRecord) (*sink.IngestResult, error)
}

func (s *stubSinkClient) Ingest(ctx context.Context, streamName string, records []engine.TargetRecord) (*sink.IngestResult, error) {
	return s.ingest(ctx, streamName, records)
}

func TestProcessObjectDecodesTransformsAndSubmits(t *testing.T) {
	src := newFakeSource()
	src.add("obj1", `{"id":"f1","accountId":"111","region":"us-east-1","severity":5,"type":"Recon:EC2","createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`+"\n")

	dl := &recordingDeadLetter{}
	c, bat := newTestController(t, src, nil, dl)

	ctx := context.Background()
	c.processObject(ctx, engine.ObjectRef{Bucket: "test-bucket", Key: "obj1"})

	bat.CheckFlushInterval()
	select {
	case b := <-bat.Emitted:
		require.Len(t, b.Records, 1)
		require.Equal(t, "f1", b.Records[0].FindingId)
		require.Equal(t, "111", b.Records[0].AccountId)
	case <-time.After(time.Second):
		t.Fatal("expected one emitted batch")
	}
	require.Equal(t, 0, dl.count())
}

func TestProcessObjectSkipsDuplicateOnSecondPass(t *testing.T) {
	src := newFakeSource()
	src.add("obj1", `{"id":"f1","accountId":"111","region":"us-east-1","severity":5,"type":"Recon:EC2","createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`+"\n")

	dl := &recordingDeadLetter{}
	c, bat := newTestController(t, src, nil, dl)
	ctx := context.Background()

	c.processObject(ctx, engine.ObjectRef{Bucket: "test-bucket", Key: "obj1"})
	c.processObject(ctx, engine.ObjectRef{Bucket: "test-bucket", Key: "obj1"})

	bat.CheckFlushInterval()
	select {
	case b := <-bat.Emitted:
		require.Len(t, b.Records, 1, "second pass over the same finding id must be suppressed by dedup")
	case <-time.After(time.Second):
		t.Fatal("expected one emitted batch")
	}
}

func TestProcessBatchDeadLettersOnSinkFailure(t *testing.T) {
	src := newFakeSource()
	dl := &recordingDeadLetter{}
	cli := &stubSinkClient{ingest: func(_ context.Context, _ string, _ []engine.TargetRecord) (*sink.IngestResult, error) {
		return nil, &transientErr{}
	}}
	c, _ := newTestController(t, src, cli, dl)

	b := engine.NewBatch([]engine.TargetRecord{{FindingId: "f1", TimeGenerated: time.Now().UTC().Format(time.RFC3339Nano)}}, 8)
	c.processBatch(context.Background(), b)

	require.Equal(t, engine.StatusDeadLettered, b.Status())
	require.Equal(t, 1, dl.count())
}

func TestProcessBatchCompletesOnSinkSuccess(t *testing.T) {
	src := newFakeSource()
	dl := &recordingDeadLetter{}
	cli := &stubSinkClient{ingest: func(_ context.Context, _ string, records []engine.TargetRecord) (*sink.IngestResult, error) {
		return &sink.IngestResult{AcceptedRecords: len(records)}, nil
	}}
	c, _ := newTestController(t, src, cli, dl)

	b := engine.NewBatch([]engine.TargetRecord{{FindingId: "f1", TimeGenerated: time.Now().UTC().Format(time.RFC3339Nano)}}, 8)
	c.processBatch(context.Background(), b)

	require.Equal(t, engine.StatusCompleted, b.Status())
	require.Equal(t, 0, dl.count())
}

func TestEnqueueRejectsWhenDraining(t *testing.T) {
	src := newFakeSource()
	dl := &recordingDeadLetter{}
	c, _ := newTestController(t, src, nil, dl)

	require.True(t, c.Enqueue(engine.ObjectRef{Bucket: "b", Key: "k"}))
	close(c.draining)
	require.False(t, c.Enqueue(engine.ObjectRef{Bucket: "b", Key: "k2"}))
}

func TestHandleObjectFailureDeadLetters(t *testing.T) {
	src := newFakeSource()
	dl := &recordingDeadLetter{}
	c, _ := newTestController(t, src, nil, dl)

	ref := engine.ObjectRef{Bucket: "b", Key: "missing-access"}
	c.handleObjectFailure(ref, errFixture())

	require.Equal(t, 1, dl.count())
}

func errFixture() error {
	return &transientErr{}
}

func TestDeadLetterRemainingQueueDrainsBatchesLeftAtShutdown(t *testing.T) {
	src := newFakeSource()
	dl := &recordingDeadLetter{}
	c, bat := newTestController(t, src, nil, dl)

	b1 := engine.NewBatch([]engine.TargetRecord{{FindingId: "f1"}}, 8)
	b2 := engine.NewBatch([]engine.TargetRecord{{FindingId: "f2"}}, 8)
	bat.Emitted <- b1
	bat.Emitted <- b2

	c.deadLetterRemainingQueue()

	require.Equal(t, 2, dl.count())
	require.Equal(t, engine.StatusDeadLettered, b1.Status())
	require.Equal(t, engine.StatusDeadLettered, b2.Status())
}
