package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
	"pexelsync/pkg/storage"
)

type mockClient struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	failures map[string]error
	delay    time.Duration
	active   int32
	peak     int32
}

func (m *mockClient) DownloadPhoto(ctx context.Context, url string) ([]byte, error) {
	n := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if n <= p || atomic.CompareAndSwapInt32(&m.peak, p, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[url]; err != nil {
		return nil, err
	}
	if b, ok := m.bodies[url]; ok {
		return b, nil
	}
	return bytes.Repeat([]byte{0xff}, 2048), nil
}

type memStorage struct {
	mu    sync.Mutex
	files map[string]int64
}

func (s *memStorage) Save(r io.Reader, name string) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = int64(len(data))
	return "/mem/" + name, int64(len(data)), nil
}

func (s *memStorage) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
	return nil
}

func makeRecords(n int) []models.ImageRecord {
	out := make([]models.ImageRecord, n)
	for i := range out {
		out[i] = models.ImageRecord{
			Index: i,
			Name:  fmt.Sprintf("pexels_%d.jpeg", i),
			Link:  fmt.Sprintf("https://images.test/%d.jpeg", i),
		}
	}
	return out
}

func TestDownloadAllKeepsOrder(t *testing.T) {
	client := &mockClient{delay: time.Millisecond}
	store := &memStorage{files: map[string]int64{}}

	ok, results := DownloadAll(context.Background(), makeRecords(25), Options{Workers: 4, MinFileSize: 1024}, client, store, logger.NewTestLogger())

	require.Len(t, ok, 25)
	require.Len(t, results, 25)
	for i, rec := range ok {
		assert.Equal(t, i, rec.Index)
		assert.Equal(t, "/mem/"+rec.Name, rec.LocalPath)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&client.peak), int32(4))
	assert.Len(t, store.files, 25)
}

func TestDownloadAllDropsFailures(t *testing.T) {
	records := makeRecords(6)
	client := &mockClient{
		failures: map[string]error{records[1].Link: errors.New("connection reset")},
		bodies:   map[string][]byte{records[4].Link: []byte("tiny")},
	}
	store := &memStorage{files: map[string]int64{}}
	log := logger.NewTestLogger()

	var seen int32
	ok, results := DownloadAll(context.Background(), records, Options{
		Workers:     3,
		MinFileSize: 1024,
		OnResult:    func(Result) { atomic.AddInt32(&seen, 1) },
	}, client, store, log)

	require.Len(t, ok, 4)
	for _, rec := range ok {
		assert.NotContains(t, []int{1, 4}, rec.Index)
	}
	assert.Equal(t, int32(6), atomic.LoadInt32(&seen))

	assert.False(t, results[1].Success())
	assert.ErrorIs(t, results[4].Error, ErrTooSmall)
	_, kept := store.files[records[4].Name]
	assert.False(t, kept, "undersized file is removed")

	assert.True(t, log.HasMessage("ERROR", "error while downloading"))
	assert.True(t, log.HasMessage("WARN", "too small"))
}

func TestDownloadAllWithRealStorage(t *testing.T) {
	m, err := storage.NewManager(t.TempDir(), "run")
	require.NoError(t, err)

	ok, _ := DownloadAll(context.Background(), makeRecords(3), Options{Workers: 2, MinFileSize: 1024}, &mockClient{}, m, logger.NewNopLogger())
	require.Len(t, ok, 3)
	assert.Equal(t, m.Path("pexels_2.jpeg"), ok[2].LocalPath)
	assert.Equal(t, 3, m.Count())
}

func TestCancelledContextFailsRemainingJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, results := DownloadAll(ctx, makeRecords(5), Options{Workers: 2}, &mockClient{}, &memStorage{files: map[string]int64{}}, logger.NewNopLogger())
	assert.Empty(t, ok)
	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.Canceled)
	}
}

func TestWorkerPoolManualLifecycle(t *testing.T) {
	pool := NewWorkerPool(context.Background(), Options{Workers: 2}, &mockClient{}, &memStorage{files: map[string]int64{}}, logger.NewNopLogger())
	pool.Start()

	go func() {
		for i, rec := range makeRecords(4) {
			assert.NoError(t, pool.Submit(Job{Index: i, Record: rec}))
		}
		pool.Stop()
	}()

	count := 0
	for r := range pool.Results() {
		assert.True(t, r.Success())
		count++
	}
	assert.Equal(t, 4, count)
}
