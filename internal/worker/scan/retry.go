package scan

import (
	"errors"
	"time"

	"github.com/hitoshi/certman/internal/certsource"
)

// FailureReason は証明書取得失敗の分類。
type FailureReason string

const (
	// FailureNameResolution は名前解決の失敗。
	FailureNameResolution FailureReason = "name_resolution"
	// FailureHandshake はTLSハンドシェイクの失敗。
	FailureHandshake FailureReason = "handshake"
	// FailureUnavailable は接続拒否・タイムアウトなどその他の失敗。
	FailureUnavailable FailureReason = "unavailable"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
)

// failureState はドメインごとの連続失敗状態。
type failureState struct {
	consecutive int
	nextAttempt time.Time
}

// ClassifyFetchError は証明書ソースのエラーを失敗理由に分類する。
func ClassifyFetchError(err error) FailureReason {
	switch {
	case errors.Is(err, certsource.ErrNameResolution):
		return FailureNameResolution
	case errors.Is(err, certsource.ErrHandshake):
		return FailureHandshake
	default:
		return FailureUnavailable
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// due はドメインがバックオフ期間外で取得対象であればtrueを返す。
func (s *Scheduler) due(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.failures[name]
	return !ok || !now.Before(st.nextAttempt)
}

// recordFailure は連続失敗回数をインクリメントし、次回試行までの遅延を返す。
func (s *Scheduler) recordFailure(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.failures[name]
	if !ok {
		st = &failureState{}
		s.failures[name] = st
	}
	delay := CalculateBackoff(st.consecutive)
	st.consecutive++
	st.nextAttempt = s.now().Add(delay)
	return delay
}

// recordSuccess は連続失敗状態をリセットする。
func (s *Scheduler) recordSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failures, name)
}
