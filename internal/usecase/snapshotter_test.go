package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
)

type memStore struct {
	mu       sync.Mutex
	streams  map[string]*models.StreamSnapshot
	process  *models.ProcessSnapshot
	failures int
	saves    int
}

func newMemStore() *memStore {
	return &memStore{streams: make(map[string]*models.StreamSnapshot)}
}

func (m *memStore) SaveStream(ctx context.Context, snap *models.StreamSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failures > 0 {
		m.failures--
		return errors.New("disk full")
	}
	m.streams[snap.Profile] = snap
	return nil
}

func (m *memStore) LoadStream(ctx context.Context, profile string) (*models.StreamSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[profile], nil
}

func (m *memStore) SaveProcess(ctx context.Context, snap *models.ProcessSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.process = snap
	return nil
}

func (m *memStore) LoadProcess(ctx context.Context) (*models.ProcessSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.process, nil
}

func (m *memStore) stream(profile string) *models.StreamSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[profile]
}

func snapshotterConfig() SnapshotterConfig {
	return SnapshotterConfig{
		Interval:   20 * time.Millisecond,
		RetryMin:   time.Millisecond,
		RetryMax:   10 * time.Millisecond,
		MaxRetries: 5,
	}
}

func streamSnap(profile string, at time.Time) *models.StreamSnapshot {
	return &models.StreamSnapshot{
		Schema:  models.StreamSnapshotSchema,
		Version: models.SnapshotVersion,
		Profile: profile,
		SavedAt: at,
	}
}

func TestFlushesLatestSnapshotPerProfile(t *testing.T) {
	store := newMemStore()
	s := NewSnapshotter(snapshotterConfig(), store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	old := streamSnap("btc", time.Unix(100, 0))
	newer := streamSnap("btc", time.Unix(200, 0))
	s.OfferStream(old)
	s.OfferStream(newer)

	require.Eventually(t, func() bool {
		got := store.stream("btc")
		return got != nil && got.SavedAt.Equal(newer.SavedAt)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRetriesSaveWithBackoff(t *testing.T) {
	store := newMemStore()
	store.failures = 2
	s := NewSnapshotter(snapshotterConfig(), store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	s.OfferStream(streamSnap("eth", time.Unix(1, 0)))
	require.Eventually(t, func() bool {
		return store.stream("eth") != nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.GreaterOrEqual(t, store.saves, 3, "two failures plus the success")
}

func TestFinalFlushOnShutdown(t *testing.T) {
	store := newMemStore()
	cfg := snapshotterConfig()
	cfg.Interval = time.Hour // the ticker never fires
	s := NewSnapshotter(cfg, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	s.OfferStream(streamSnap("btc", time.Unix(7, 0)))
	s.OfferProcess(&models.ProcessSnapshot{Schema: models.ProcessSnapshotSchema, Version: models.SnapshotVersion})

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.NotNil(t, store.stream("btc"), "pending stream snapshot flushed on shutdown")
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotNil(t, store.process, "pending process snapshot flushed on shutdown")
}

func TestOfferNeverBlocksUnderBackpressure(t *testing.T) {
	store := newMemStore()
	s := NewSnapshotter(snapshotterConfig(), store, nil, nil)

	// Run loop not started: channels fill up, offers must still return
	donech := make(chan struct{})
	go func() {
		defer close(donech)
		for i := 0; i < 1000; i++ {
			s.OfferStream(streamSnap("btc", time.Unix(int64(i), 0)))
		}
	}()
	select {
	case <-donech:
	case <-time.After(2 * time.Second):
		t.Fatal("OfferStream blocked")
	}
}
