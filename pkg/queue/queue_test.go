package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
)

func rec(uuid string, size int64) *flowfile.Record {
	return flowfile.NewRecord(0, uuid, contentclaim.Claim{}, 0, size)
}

func TestPutPollFIFOOrder(t *testing.T) {
	q := New("conn-1", Thresholds{})
	q.Put(rec("a", 10))
	q.Put(rec("b", 10))
	q.Put(rec("c", 10))

	require.Equal(t, "a", q.Poll().UUID)
	require.Equal(t, "b", q.Poll().UUID)
	require.Equal(t, "c", q.Poll().UUID)
	assert.Nil(t, q.Poll())
}

func TestSizeTracksObjectsAndBytes(t *testing.T) {
	q := New("conn-1", Thresholds{})
	q.Put(rec("a", 100))
	q.Put(rec("b", 50))

	size := q.Size()
	assert.EqualValues(t, 2, size.ObjectCount)
	assert.EqualValues(t, 150, size.ByteCount)

	q.Poll()
	size = q.Size()
	assert.EqualValues(t, 1, size.ObjectCount)
	assert.EqualValues(t, 50, size.ByteCount)
}

func TestPollBatchRespectsMaxAndOrder(t *testing.T) {
	q := New("conn-1", Thresholds{})
	for _, id := range []string{"a", "b", "c"} {
		q.Put(rec(id, 1))
	}

	batch := q.PollBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].UUID)
	assert.Equal(t, "b", batch[1].UUID)
	assert.False(t, q.IsEmpty())

	rest := q.PollBatch(10)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].UUID)
	assert.True(t, q.IsEmpty())
}

func TestIsFullByObjectCount(t *testing.T) {
	q := New("conn-1", Thresholds{MaxObjectCount: 2})
	assert.False(t, q.IsFull())
	q.Put(rec("a", 1))
	assert.False(t, q.IsFull())
	q.Put(rec("b", 1))
	assert.True(t, q.IsFull())
}

func TestIsFullByByteCount(t *testing.T) {
	q := New("conn-1", Thresholds{MaxByteCount: 100})
	q.Put(rec("a", 99))
	assert.False(t, q.IsFull())
	q.Put(rec("b", 1))
	assert.True(t, q.IsFull())
}

func TestSetThresholdsAppliesImmediatelyWithoutLosingContents(t *testing.T) {
	q := New("conn-1", Thresholds{MaxObjectCount: 100})
	q.Put(rec("a", 1))
	q.Put(rec("b", 1))
	assert.False(t, q.IsFull())

	q.SetThresholds(Thresholds{MaxObjectCount: 2})
	assert.True(t, q.IsFull())
	assert.EqualValues(t, 2, q.Size().ObjectCount)
}

func TestExpireOlderThanRemovesStaleEntriesOnly(t *testing.T) {
	q := New("conn-1", Thresholds{ExpirationPeriod: time.Minute})
	old := rec("old", 1)
	old.EntryTimestamp = time.Now().Add(-time.Hour)
	q.Put(old)
	fresh := rec("fresh", 1)
	q.Put(fresh)

	expired := q.ExpireOlderThan(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].UUID)
	assert.EqualValues(t, 1, q.Size().ObjectCount)
}

func TestExpireOlderThanDisabledWhenPeriodZero(t *testing.T) {
	q := New("conn-1", Thresholds{})
	old := rec("old", 1)
	old.EntryTimestamp = time.Now().Add(-time.Hour)
	q.Put(old)

	expired := q.ExpireOlderThan(time.Now())
	assert.Nil(t, expired)
	assert.EqualValues(t, 1, q.Size().ObjectCount)
}

func TestNewestFirstPrioritizerReversesOrder(t *testing.T) {
	q := New("conn-1", Thresholds{}, NewestFirstPrioritizer{})
	a := rec("a", 1)
	a.EntryTimestamp = time.Now().Add(-time.Minute)
	b := rec("b", 1)
	b.EntryTimestamp = time.Now()
	q.Put(a)
	q.Put(b)

	require.Equal(t, "b", q.Poll().UUID)
	require.Equal(t, "a", q.Poll().UUID)
}
