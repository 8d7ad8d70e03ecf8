package ratelimit

import (
	"context"
	"sync"
	"time"
)

// counterWindow は1つのキーの現在のウィンドウ。
type counterWindow struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore は単一プロセス内でカウンタを保持するCounterStore。
// インスタンス間で共有されないため、テストと開発環境でのみ使用する。
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*counterWindow
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore はMemoryStoreを生成する。
// cleanupIntervalが正の場合、バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*counterWindow),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}

	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Increment はkeyのカウンタを増やす。ウィンドウが期限切れの場合は新しいウィンドウを開始する。
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &counterWindow{expiresAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.expiresAt.Sub(now), nil
}

// Ping は常に成功する。
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len は現在保持しているキーの数を返す。テスト用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は期限切れのウィンドウを削除する。
func (s *MemoryStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.windows {
		if !now.Before(w.expiresAt) {
			delete(s.windows, key)
		}
	}
}

// compile-time interface check
var _ CounterStore = (*MemoryStore)(nil)
