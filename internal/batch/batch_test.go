package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

func recordWithID(id string) engine.TargetRecord {
	return engine.TargetRecord{FindingId: id, TimeGenerated: time.Now().UTC().Format(time.RFC3339)}
}

func TestSubmitEmitsOnCountTrigger(t *testing.T) {
	b := New(3, 0, time.Hour)
	require.NoError(t, b.Submit(recordWithID("a")))
	require.NoError(t, b.Submit(recordWithID("b")))

	select {
	case <-b.Emitted:
		t.Fatal("should not have emitted before batch size reached")
	default:
	}

	require.NoError(t, b.Submit(recordWithID("c")))
	batch := <-b.Emitted
	require.Len(t, batch.Records, 3)
	require.Equal(t, "a", batch.Records[0].FindingId)
	require.Equal(t, "c", batch.Records[2].FindingId, "FIFO order preserved within the batch")
}

func TestSubmitPreservesSubmissionOrderAcrossEmittedBatches(t *testing.T) {
	b := New(2, 0, time.Hour)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		require.NoError(t, b.Submit(recordWithID(id)))
	}

	first := <-b.Emitted
	second := <-b.Emitted
	require.Equal(t, []string{"a", "b"}, []string{first.Records[0].FindingId, first.Records[1].FindingId})
	require.Equal(t, []string{"c", "d"}, []string{second.Records[0].FindingId, second.Records[1].FindingId})
}

func TestSubmitEmitsEarlyWhenSoftCapWouldBeExceeded(t *testing.T) {
	b := New(1000, 200, time.Hour)
	big := engine.TargetRecord{FindingId: "big", RawJson: string(make([]byte, 150))}
	require.NoError(t, b.Submit(big))
	require.NoError(t, b.Submit(recordWithID("tips-it-over")))

	batch := <-b.Emitted
	require.Len(t, batch.Records, 1, "second record should have triggered an early flush of the first")
}

func TestSubmitRejectsRecordExceedingHardLimit(t *testing.T) {
	b := New(1000, 0, time.Hour)
	huge := engine.TargetRecord{FindingId: "huge", RawJson: string(make([]byte, HardLimitBytes+1))}

	err := b.Submit(huge)
	require.Error(t, err)
	var tooLarge *ErrRecordTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestCheckFlushIntervalEmitsAgedPartialBatch(t *testing.T) {
	b := New(1000, 0, time.Millisecond)
	require.NoError(t, b.Submit(recordWithID("lonely")))
	time.Sleep(5 * time.Millisecond)

	b.CheckFlushInterval()
	batch := <-b.Emitted
	require.Len(t, batch.Records, 1)
}

func TestDrainFlushesPartialBufferAndRejectsFurtherSubmits(t *testing.T) {
	b := New(1000, 0, time.Hour)
	require.NoError(t, b.Submit(recordWithID("partial")))

	b.Drain()
	batch := <-b.Emitted
	require.Len(t, batch.Records, 1)

	_, ok := <-b.Emitted
	require.False(t, ok, "channel closed after drain")

	require.Error(t, b.Submit(recordWithID("too-late")))
}
