// Package ratelimit は認証エンドポイント向けの固定ウィンドウ方式のアドミッションゲートを提供する。
// カウンタは複数インスタンス間で共有されるストアに保持する。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 既定値: 1分あたり10回
const (
	DefaultWindow      = time.Minute
	DefaultMaxAttempts = 10
)

// CounterStore は固定ウィンドウのカウンタを保持するストア。
type CounterStore interface {
	// Increment はkeyのカウンタを1増やし、増加後の値とウィンドウの残り時間を返す。
	// キーが存在しない場合はwindowを有効期限として新しいウィンドウを開始する。
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// Config はゲートの設定。
type Config struct {
	Window      time.Duration
	MaxAttempts int64
}

// Decision はゲートの判定結果。
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration // ウィンドウがリセットされるまでの時間
}

// Remaining は現在のウィンドウで残っている試行回数を返す。
func (d Decision) Remaining() int64 {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// Gate はクライアントとエンドポイント種別ごとに試行回数を数え、上限超過を拒否する。
type Gate struct {
	store  CounterStore
	window time.Duration
	limit  int64
}

// NewGate はGateを生成する。0以下の設定値は既定値で補う。
func NewGate(store CounterStore, cfg Config) *Gate {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Gate{store: store, window: cfg.Window, limit: cfg.MaxAttempts}
}

// Limit は1ウィンドウあたりの上限回数を返す。
func (g *Gate) Limit() int64 {
	return g.limit
}

// Allow はendpointとclientの組のカウンタを増やし、上限以内かどうかを判定する。
// ストアのエラーは呼び出し側で拒否として扱うこと。
func (g *Gate) Allow(ctx context.Context, endpoint, client string) (Decision, error) {
	if client == "" {
		return Decision{}, errors.New("client identity is empty")
	}

	count, ttl, err := g.store.Increment(ctx, endpoint+":"+client, g.window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if ttl <= 0 || ttl > g.window {
		ttl = g.window
	}

	return Decision{
		Allowed:    count <= g.limit,
		Count:      count,
		Limit:      g.limit,
		RetryAfter: ttl,
	}, nil
}

// Ping はカウンタストアへの疎通を確認する。
func (g *Gate) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}
