package sqliterepo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/utils"
)

func newRepo(t *testing.T) *Repository {
	r := &Repository{}
	path := filepath.Join(t.TempDir(), utils.TestCaseMd5Name(t)+".db")
	require.NoError(t, r.Configure("controller-1", map[string]interface{}{"path": path}))
	require.NoError(t, r.Initialize("controller-1"))
	t.Cleanup(func() { r.Close() })
	return r
}

func TestConfigureDefaultsPathWhenUnset(t *testing.T) {
	r := &Repository{}
	require.NoError(t, r.Configure("controller-1", nil))
	assert.Equal(t, "flowfile_journal.db", r.path)
}

func TestNextSequenceStartsAtOneAndIncrementsAcrossUpdates(t *testing.T) {
	r := newRepo(t)

	seq, err := r.NextSequence()
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)

	rec := flowfile.NewRecord(seq, "uuid-1", contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}, 0, 10)
	rec.QueueID = "conn-1"
	require.NoError(t, r.UpdateRepository([]*flowfile.Record{rec}))

	next, err := r.NextSequence()
	require.NoError(t, err)
	assert.EqualValues(t, 2, next)
}

func TestUpdateRepositoryUpsertsBySequence(t *testing.T) {
	r := newRepo(t)

	rec := flowfile.NewRecord(1, "uuid-1", contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}, 0, 10)
	rec.QueueID = "conn-1"
	require.NoError(t, r.UpdateRepository([]*flowfile.Record{rec}))

	rec.QueueID = "conn-2"
	rec.Attributes["custom"] = "value"
	require.NoError(t, r.UpdateRepository([]*flowfile.Record{rec}))

	var queueID string
	row := r.db.QueryRow(`SELECT queue_id FROM flowfile_journal WHERE sequence = 1`)
	require.NoError(t, row.Scan(&queueID))
	assert.Equal(t, "conn-2", queueID)

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM flowfile_journal`).Scan(&count))
	assert.Equal(t, 1, count, "upsert by sequence must not create a second row")
}

func TestUpdateRepositoryEmptyBatchIsNoop(t *testing.T) {
	r := newRepo(t)
	assert.NoError(t, r.UpdateRepository(nil))
}

func TestLoadReturnsHighestSequenceAtOrAboveStartingID(t *testing.T) {
	r := newRepo(t)

	for i := int64(1); i <= 3; i++ {
		rec := flowfile.NewRecord(i, "uuid", contentclaim.Claim{}, 0, 1)
		require.NoError(t, r.UpdateRepository([]*flowfile.Record{rec}))
	}

	max, err := r.Load("controller-1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, max)
}

func TestIsVolatileIsFalse(t *testing.T) {
	r := newRepo(t)
	assert.False(t, r.IsVolatile())
}
