package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfwd/fwd/model"
)

func TestNextIds(t *testing.T) {
	assert.EqualValues(t, 1, NextRuleId(nil))
	assert.EqualValues(t, 8, NextRuleId([]model.ForwardRule{{Id: 3}, {Id: 7}, {Id: 2}}))
	assert.EqualValues(t, 1, NextLogId(nil))
	assert.EqualValues(t, 5, NextLogId([]model.LogEntry{{Id: 4}, {Id: 1}}))
}

func TestUpsert(t *testing.T) {
	logs := []model.LogEntry{{Id: 1, BytesTransferred: 1}}
	logs = Upsert(logs, model.LogEntry{Id: 1, BytesTransferred: 9})
	require.Len(t, logs, 1)
	assert.EqualValues(t, 9, logs[0].BytesTransferred)
	logs = Upsert(logs, model.LogEntry{Id: 2})
	assert.Len(t, logs, 2)
}

func TestCollectRecent(t *testing.T) {
	base := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	parts := map[string][]model.LogEntry{
		"2025_10_13": {{Id: 1, Timestamp: base.Add(-48 * time.Hour)}},
		"2025_10_14": {{Id: 1, Timestamp: base.Add(-24 * time.Hour)}, {Id: 2, Timestamp: base.Add(-23 * time.Hour)}},
		"2025_10_15": {{Id: 1, Timestamp: base}, {Id: 2, Timestamp: base.Add(time.Minute)}},
	}
	var reads []string
	read := func(k string) ([]model.LogEntry, error) {
		reads = append(reads, k)
		return parts[k], nil
	}

	got, err := CollectRecent([]string{"2025_10_13", "2025_10_14", "2025_10_15"}, read, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2025_10_15", "2025_10_14"}, reads)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
	assert.Equal(t, base.Add(time.Minute), got[0].Timestamp)
	assert.Equal(t, base.Add(-23*time.Hour), got[2].Timestamp)

	got, err = CollectRecent([]string{"2025_10_15"}, read, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = CollectRecent([]string{"2025_10_13", "2025_10_14", "2025_10_15"}, read, 100)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}
