// Package scan は登録済みドメインの証明書残日数を定期的に計測する。
// スキャナ、並列制御、失敗時のバックオフ戦略を含む。
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/certman/internal/certsource"
	"github.com/hitoshi/certman/internal/expiry"
	"github.com/hitoshi/certman/internal/metrics"
	"github.com/hitoshi/certman/internal/model"
	"golang.org/x/sync/errgroup"
)

// DomainLister は登録済みドメインの読み取りインターフェース。
// スキャナはレジストリを変更しない。
type DomainLister interface {
	List(ctx context.Context) ([]model.DomainRecord, error)
}

// Scheduler は証明書スキャンのスケジューリングと並列制御を行う。
// 一定間隔のティッカーでレジストリを読み込み、
// errgroupで最大並列数を制御しながら証明書を取得する。
type Scheduler struct {
	lister         DomainLister
	source         certsource.Source
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time

	mu       sync.Mutex
	failures map[string]*failureState
	observed map[string]struct{}
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	lister DomainLister,
	source certsource.Source,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		lister:         lister,
		source:         source,
		metrics:        m,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		failures:       make(map[string]*failureState),
		observed:       make(map[string]struct{}),
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("証明書スキャンを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("スキャンサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("証明書スキャンを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("スキャンサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はレジストリを1回読み込み、重複を除いた各ドメインの証明書を並列で取得する。
// 個別ドメインの取得失敗はサイクル全体を失敗させない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()

	records, err := s.lister.List(ctx)
	if err != nil {
		return err
	}

	names := distinctNames(records)
	s.metrics.SetTrackedDomains(len(records))
	s.forgetRemoved(names)

	if len(names) == 0 {
		s.logger.Info("スキャン対象のドメインはありません")
		return nil
	}

	s.logger.Info("スキャンサイクルを開始します",
		slog.Int("domain_count", len(names)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for _, name := range names {
		if !s.due(name, start) {
			s.logger.Debug("バックオフ中のためスキップします", slog.String("domain", name))
			continue
		}

		g.Go(func() error {
			s.scan(gctx, name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("スキャンサイクルが完了しました",
		slog.Int("domain_count", len(names)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)

	return ctx.Err()
}

// scan は1ドメインの証明書を取得し、残日数をメトリクスに反映する。
func (s *Scheduler) scan(ctx context.Context, name string) {
	fetchStart := time.Now()
	cert, err := s.source.Get(ctx, name)
	if err == nil && cert == nil {
		err = certsource.ErrSourceUnavailable
	}
	if err != nil {
		s.metrics.RecordCertificateFetch(metrics.ResultFailure, time.Since(fetchStart))
		if errors.Is(err, context.Canceled) {
			return
		}
		delay := s.recordFailure(name)
		s.logger.Warn("証明書の取得に失敗しました",
			slog.String("domain", name),
			slog.String("reason", string(ClassifyFetchError(err))),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.RecordCertificateFetch(metrics.ResultSuccess, time.Since(fetchStart))
	s.recordSuccess(name)

	result := expiry.Normalize(cert.ValidFrom, cert.ValidTo, s.now())
	days, known := result.RemainingDays.Value()
	s.metrics.SetRemainingDays(name, days, known)

	s.logger.Debug("証明書を確認しました",
		slog.String("domain", name),
		slog.String("end_date", result.EndDate),
		slog.String("remaining_days", result.RemainingDays.String()),
	)
}

// forgetRemoved はレジストリから消えたドメインのメトリクスと失敗状態を破棄する。
func (s *Scheduler) forgetRemoved(names []string) {
	current := make(map[string]struct{}, len(names))
	for _, n := range names {
		current[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for n := range s.observed {
		if _, ok := current[n]; !ok {
			s.metrics.SetRemainingDays(n, 0, false)
			delete(s.failures, n)
		}
	}
	s.observed = current
}

func distinctNames(records []model.DomainRecord) []string {
	seen := make(map[string]struct{}, len(records))
	names := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		names = append(names, r.Name)
	}
	return names
}
