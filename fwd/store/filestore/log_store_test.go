package filestore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfwd/fwd/model"
)

func TestLogPartitionLazyCreate(t *testing.T) {
	root := t.TempDir()
	s, err := OpenLogStore(root)
	require.NoError(t, err)

	logs, err := s.Read("2025_10_15")
	require.NoError(t, err)
	assert.Empty(t, logs)
	_, err = os.Stat(filepath.Join(root, "2025_10_15"))
	assert.True(t, os.IsNotExist(err))

	e := model.LogEntry{Id: 1, ForwardId: 3, ClientIp: "10.0.0.1", Timestamp: time.Now()}
	require.NoError(t, s.AppendOrUpdate("2025_10_15", e))
	_, err = os.Stat(filepath.Join(root, "2025_10_15", LogFileName))
	require.NoError(t, err)

	e.BytesTransferred = 150
	require.NoError(t, s.AppendOrUpdate("2025_10_15", e))
	logs, err = s.Read("2025_10_15")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.EqualValues(t, 150, logs[0].BytesTransferred)
}

func TestLogRecreatesPartitionRemovedElsewhere(t *testing.T) {
	root := t.TempDir()
	s, err := OpenLogStore(root)
	require.NoError(t, err)

	e := model.LogEntry{Id: 1, ForwardId: 3, ClientIp: "10.0.0.1", Timestamp: time.Now()}
	require.NoError(t, s.AppendOrUpdate("2025_10_15", e))

	// 另一个进程（purge 命令）删掉了分区，本进程缓存仍认为目录存在
	other, err := OpenLogStore(root)
	require.NoError(t, err)
	dropped, err := other.Drop("2025_10_15")
	require.NoError(t, err)
	require.True(t, dropped)

	e2 := model.LogEntry{Id: 1, ForwardId: 4, ClientIp: "10.0.0.2", Timestamp: time.Now()}
	require.NoError(t, s.AppendOrUpdate("2025_10_15", e2))
	logs, err := s.Read("2025_10_15")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.EqualValues(t, 4, logs[0].ForwardId)
}

func TestLogRejectsBadKey(t *testing.T) {
	s, err := OpenLogStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.AppendOrUpdate("../../etc", model.LogEntry{Id: 1}))
	_, err = s.Read("2025-10-15")
	require.Error(t, err)
}

func TestLogRecentAcrossPartitions(t *testing.T) {
	root := t.TempDir()
	s, err := OpenLogStore(root)
	require.NoError(t, err)

	base := time.Date(2025, 10, 15, 9, 0, 0, 0, time.Local)
	for d := 0; d < 3; d++ {
		day := base.AddDate(0, 0, -d)
		key := day.Format("2006_01_02")
		for i := 1; i <= 4; i++ {
			require.NoError(t, s.AppendOrUpdate(key, model.LogEntry{Id: int64(i), Timestamp: day.Add(time.Duration(i) * time.Minute)}))
		}
	}
	// 非分区目录与文件被忽略
	require.NoError(t, os.MkdirAll(filepath.Join(root, "misc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, RulesFileName), []byte(`{"forwards":[]}`), 0o644))

	parts, err := s.Partitions()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025_10_13", "2025_10_14", "2025_10_15"}, parts)

	got, err := s.Recent(6)
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
	assert.True(t, got[0].Timestamp.Equal(base.Add(4*time.Minute)))

	got, err = s.Recent(100)
	require.NoError(t, err)
	assert.Len(t, got, 12)
}

func TestLogRecentSkipsCorruptPartition(t *testing.T) {
	root := t.TempDir()
	s, err := OpenLogStore(root)
	require.NoError(t, err)
	require.NoError(t, s.AppendOrUpdate("2025_10_14", model.LogEntry{Id: 1, Timestamp: time.Now()}))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2025_10_15"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2025_10_15", LogFileName), []byte("garbage"), 0o644))

	got, err := s.Recent(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLogConcurrentWritesSamePartition(t *testing.T) {
	s, err := OpenLogStore(t.TempDir())
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, s.AppendOrUpdate("2025_10_15", model.LogEntry{Id: id, Timestamp: time.Now()}))
		}(int64(i))
	}
	wg.Wait()
	logs, err := s.Read("2025_10_15")
	require.NoError(t, err)
	assert.Len(t, logs, 20)
}

func TestLogDrop(t *testing.T) {
	s, err := OpenLogStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.AppendOrUpdate("2025_10_15", model.LogEntry{Id: 1}))
	ok, err := s.Drop("2025_10_15")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Drop("2025_10_15")
	require.NoError(t, err)
	assert.False(t, ok)

	// 删除后可重新建分区
	require.NoError(t, s.AppendOrUpdate("2025_10_15", model.LogEntry{Id: 1}))
	parts, err := s.Partitions()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025_10_15"}, parts)
}
