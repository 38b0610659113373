package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/certman/internal/certsource"
	"github.com/hitoshi/certman/internal/expiry"
	"github.com/hitoshi/certman/internal/metrics"
	"github.com/hitoshi/certman/internal/model"
)

const tracerName = "github.com/hitoshi/certman/internal/registry"

// DomainValidator はドメイン名検証のインターフェース。
type DomainValidator interface {
	Validate(name string) error
}

// Service は証明書ソース、正規化、Storeを組み合わせてユースケースを実行する。
// 証明書取得中はStoreのロックを保持しない。
type Service struct {
	source    certsource.Source
	store     *Store
	validator DomainValidator
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	tracer    trace.Tracer
	now       func() time.Time

	// 同一ホストへの同時取得を1回にまとめる
	fetches singleflight.Group
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	source certsource.Source,
	store *Store,
	validator DomainValidator,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		source:    source,
		store:     store,
		validator: validator,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// AddDomain はドメインの証明書を取得して正規化し、レジストリに追加する。
// 追加後のレコード一覧を返す。証明書取得に失敗した場合はレジストリを変更しない。
func (s *Service) AddDomain(ctx context.Context, name string) ([]model.DomainRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.AddDomain")
	defer span.End()

	if _, err := s.track(ctx, span, name); err != nil {
		return nil, err
	}

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	return records, nil
}

// CheckAndSaveDomain はドメインの証明書を確認してレジストリに追加し、そのレコードを返す。
func (s *Service) CheckAndSaveDomain(ctx context.Context, name string) (model.DomainRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.CheckAndSaveDomain")
	defer span.End()

	return s.track(ctx, span, name)
}

// CheckDomain はドメインの証明書を取得して正規化した結果を返す。
// レジストリには保存しない。
func (s *Service) CheckDomain(ctx context.Context, name string) (model.DomainRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.CheckDomain")
	defer span.End()

	return s.resolve(ctx, span, name)
}

// ListDomains は挿入順のレコード一覧を返す。
func (s *Service) ListDomains(ctx context.Context) ([]model.DomainRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ListDomains")
	defer span.End()

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("registry.records", len(records)))
	return records, nil
}

// RemoveDomain はnameに一致するすべてのレコードを削除し、削除後のレコード一覧を返す。
// 一致するレコードがない場合も成功とする。
func (s *Service) RemoveDomain(ctx context.Context, name string) ([]model.DomainRecord, error) {
	ctx, span := s.tracer.Start(ctx, "registry.RemoveDomain",
		trace.WithAttributes(attribute.String("domain", name)),
	)
	defer span.End()

	removed, err := s.store.Remove(ctx, name)
	if err != nil {
		return nil, fail(span, err)
	}
	if removed > 0 {
		s.metrics.RecordDomainsRemoved(removed)
	}
	span.SetAttributes(attribute.Int("registry.removed", removed))

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	return records, nil
}

// track はレコードを生成してStoreに追加する。
func (s *Service) track(ctx context.Context, span trace.Span, name string) (model.DomainRecord, error) {
	rec, err := s.resolve(ctx, span, name)
	if err != nil {
		return model.DomainRecord{}, err
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return model.DomainRecord{}, fail(span, err)
	}
	s.metrics.RecordDomainAdded()
	return rec, nil
}

// resolve は入力検証、証明書取得、正規化を行いレコードを生成する。
func (s *Service) resolve(ctx context.Context, span trace.Span, name string) (model.DomainRecord, error) {
	name = strings.TrimSpace(name)
	span.SetAttributes(attribute.String("domain", name))

	if name == "" {
		return model.DomainRecord{}, fail(span, model.NewInvalidDomainError("ドメイン名が空です"))
	}
	if s.validator != nil {
		if err := s.validator.Validate(name); err != nil {
			return model.DomainRecord{}, fail(span, model.NewInvalidDomainError(err.Error()))
		}
	}

	cert, err := s.fetch(ctx, name)
	if err != nil {
		s.logger.WarnContext(ctx, "certificate fetch failed",
			slog.String("domain", name),
			slog.String("error", err.Error()),
		)
		return model.DomainRecord{}, fail(span, model.NewCertificateFetchError(name, err))
	}

	rec := expiry.Normalize(cert.ValidFrom, cert.ValidTo, s.now()).Record(name)
	span.SetAttributes(attribute.String("certificate.remaining_days", rec.RemainingDays.String()))
	return rec, nil
}

// fetch は証明書ソースを呼び出す。同一ホストへの同時呼び出しは1回にまとめる。
func (s *Service) fetch(ctx context.Context, name string) (*certsource.Certificate, error) {
	key := name
	if ascii, err := certsource.ASCIIHost(name); err == nil {
		key = ascii
	}

	v, err, _ := s.fetches.Do(key, func() (any, error) {
		start := time.Now()
		cert, err := s.source.Get(ctx, name)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
		}
		s.metrics.RecordCertificateFetch(result, time.Since(start))
		return cert, err
	})
	if err != nil {
		return nil, err
	}
	cert, _ := v.(*certsource.Certificate)
	if cert == nil {
		return nil, certsource.ErrSourceUnavailable
	}
	return cert, nil
}

// fail はエラーをスパンに記録してそのまま返す。
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
