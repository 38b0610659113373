// Package registry は証明書レジストリの永続化とユースケースを提供する。
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/certman/internal/metrics"
	"github.com/hitoshi/certman/internal/model"
	"github.com/hitoshi/certman/internal/repository"
)

// 永続化操作の種別（エラーメトリクスのラベルに使用する）
const (
	opInit  = "init"
	opRead  = "read"
	opWrite = "write"
)

// Store はレジストリの唯一の正となるレコード集合を管理する。
// Append/Removeの読み込み→変更→書き込みは単一のクリティカルセクションで直列化し、
// Listは書き込み中の中間状態を観測しない。
type Store struct {
	medium  repository.RegistryMedium
	mu      sync.RWMutex
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewStore はStoreを生成する。loggerとmetricsがnilの場合は既定値を使用する。
func NewStore(medium repository.RegistryMedium, logger *slog.Logger, m metrics.MetricsCollector) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Store{
		medium:  medium,
		logger:  logger,
		metrics: m,
	}
}

// Init は永続化媒体にレジストリが存在しない場合に空のレジストリを作成する。
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.medium.Init(ctx); err != nil {
		return s.ioError(ctx, opInit, "初期化", err)
	}

	records, err := s.medium.ReadAll(ctx)
	if err != nil {
		return s.ioError(ctx, opRead, "読み込み", err)
	}
	s.metrics.SetTrackedDomains(len(records))
	return nil
}

// List は挿入順のレコード一覧のスナップショットを返す。
func (s *Store) List(ctx context.Context) ([]model.DomainRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.medium.ReadAll(ctx)
	if err != nil {
		return nil, s.ioError(ctx, opRead, "読み込み", err)
	}
	return records, nil
}

// Healthy は永続化媒体が読み込み可能かを確認する。
func (s *Store) Healthy(ctx context.Context) error {
	_, err := s.List(ctx)
	return err
}

// Append はレコードを末尾に追加する。
// 書き込みに失敗した場合、永続化済みの状態は変更されない。
func (s *Store) Append(ctx context.Context, rec model.DomainRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.medium.ReadAll(ctx)
	if err != nil {
		return s.ioError(ctx, opRead, "読み込み", err)
	}

	next := make([]model.DomainRecord, 0, len(records)+1)
	next = append(next, records...)
	next = append(next, rec)

	if err := s.medium.WriteAll(ctx, next); err != nil {
		return s.ioError(ctx, opWrite, "書き込み", err)
	}

	s.metrics.SetTrackedDomains(len(next))
	s.logger.InfoContext(ctx, "domain added",
		slog.String("domain", rec.Name),
		slog.String("remaining_days", rec.RemainingDays.String()),
	)
	return nil
}

// Remove はnameに一致するすべてのレコードを削除し、削除件数を返す。
// 一致するレコードがない場合は書き込みを行わずに成功する。
func (s *Store) Remove(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.medium.ReadAll(ctx)
	if err != nil {
		return 0, s.ioError(ctx, opRead, "読み込み", err)
	}

	kept := make([]model.DomainRecord, 0, len(records))
	for _, rec := range records {
		if rec.Name != name {
			kept = append(kept, rec)
		}
	}

	removed := len(records) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := s.medium.WriteAll(ctx, kept); err != nil {
		return 0, s.ioError(ctx, opWrite, "書き込み", err)
	}

	s.metrics.SetTrackedDomains(len(kept))
	s.logger.InfoContext(ctx, "domain removed",
		slog.String("domain", name),
		slog.Int("removed", removed),
	)
	return removed, nil
}

// ioError は媒体のエラーをStoreIOErrorに変換し、ログとメトリクスに記録する。
func (s *Store) ioError(ctx context.Context, op, label string, err error) error {
	s.metrics.RecordStoreError(op)
	s.logger.ErrorContext(ctx, "registry store failure",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return model.NewStoreIOError(label, err)
}
