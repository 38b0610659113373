package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hitoshi/certman/internal/certsource"
	"github.com/hitoshi/certman/internal/metrics"
	"github.com/hitoshi/certman/internal/model"
	"github.com/hitoshi/certman/internal/security"
)

var fixedNow = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	source *fakeSource
	medium *spyMedium
	svc    *Service
}

func newServiceFixture(t *testing.T, initial ...model.DomainRecord) *serviceFixture {
	t.Helper()

	source := newFakeSource(fixedNow, 30)
	medium := newSpyMedium(initial...)
	store := NewStore(medium, nil, nil)
	require.NoError(t, store.Init(context.Background()))

	svc := NewService(source, store, security.NewDomainGuard(), nil, nil)
	svc.now = func() time.Time { return fixedNow }

	return &serviceFixture{source: source, medium: medium, svc: svc}
}

func TestAddDomain_RoundTrip(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	added, err := f.svc.AddDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, added, 1)

	records, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "example.com", rec.Name)
	assert.Equal(t, "31 Jan 2024 12:00", rec.EndDate)
	assert.Equal(t, "02 Nov 2023 12:00", rec.StartDate)
	n, ok := rec.RemainingDays.Value()
	assert.True(t, ok)
	assert.Equal(t, 30, n)
}

func TestAddDomain_TrimsWhitespace(t *testing.T) {
	f := newServiceFixture(t)

	records, err := f.svc.AddDomain(context.Background(), "  Example.com \n")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Example.com", records[0].Name)
}

func TestAddDomain_EmptyNameIsValidationError(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			f := newServiceFixture(t)

			_, err := f.svc.AddDomain(context.Background(), input)
			require.Error(t, err)
			assert.True(t, model.IsValidationError(err))
			assert.Zero(t, f.source.calls.Load(), "certificate source must not be called")
			assert.Zero(t, f.medium.writeCount())
		})
	}
}

func TestAddDomain_GuardRejectionIsValidationError(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.AddDomain(context.Background(), "<b>example.com</b>")
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))
	assert.Zero(t, f.source.calls.Load())
}

func TestAddDomain_FetchFailureLeavesRegistryUntouched(t *testing.T) {
	f := newServiceFixture(t, record("existing.example"))
	f.source.failures["bad.example"] = fmt.Errorf("dial: %w", certsource.ErrHandshake)
	ctx := context.Background()

	before, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)
	writes := f.medium.writeCount()

	_, err = f.svc.AddDomain(ctx, "bad.example")
	require.Error(t, err)
	assert.True(t, model.IsCertificateFetchError(err))
	assert.ErrorIs(t, err, certsource.ErrHandshake)

	after, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, writes, f.medium.writeCount())
}

func TestAddDomain_StoreFailureIsStoreIOError(t *testing.T) {
	f := newServiceFixture(t)
	f.medium.setFailWrite(true)

	_, err := f.svc.AddDomain(context.Background(), "example.com")
	require.Error(t, err)
	assert.True(t, model.IsStoreIOError(err))

	f.medium.setFailWrite(false)
	records, err := f.svc.ListDomains(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAddDomain_ReAddAppendsDuplicate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddDomain(ctx, "example.com")
	require.NoError(t, err)
	records, err := f.svc.AddDomain(ctx, "example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"example.com", "example.com"}, names(records))

	records, err = f.svc.RemoveDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAddDomain_ExpiredCertificateHasUnknownDays(t *testing.T) {
	f := newServiceFixture(t)
	f.source.validTo = "Jan  1 00:00:00 2020 GMT"

	records, err := f.svc.AddDomain(context.Background(), "expired.example")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].RemainingDays.IsKnown())
	assert.Equal(t, "01 Jan 2020 00:00", records[0].EndDate)
}

func TestAddDomain_NilCertificateIsFetchError(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.source = nilSource{}

	_, err := f.svc.AddDomain(context.Background(), "example.com")
	require.Error(t, err)
	assert.True(t, model.IsCertificateFetchError(err))
	assert.ErrorIs(t, err, certsource.ErrSourceUnavailable)
}

type nilSource struct{}

func (nilSource) Get(context.Context, string) (*certsource.Certificate, error) { return nil, nil }

func TestRemoveDomain_NoOpReturnsUnchangedList(t *testing.T) {
	f := newServiceFixture(t, record("a.example"), record("b.example"))
	ctx := context.Background()

	before, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)

	after, err := f.svc.RemoveDomain(ctx, "never-added.example")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRemoveDomain_ReturnsPostRemoveList(t *testing.T) {
	f := newServiceFixture(t, record("a.example"), record("b.example"), record("c.example"))

	records, err := f.svc.RemoveDomain(context.Background(), "b.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "c.example"}, names(records))
}

func TestRemoveDomain_StoreFailureIsStoreIOError(t *testing.T) {
	f := newServiceFixture(t, record("a.example"))
	f.medium.setFailWrite(true)

	_, err := f.svc.RemoveDomain(context.Background(), "a.example")
	require.Error(t, err)
	assert.True(t, model.IsStoreIOError(err))
}

func TestListDomains_ReadFailureIsStoreIOError(t *testing.T) {
	f := newServiceFixture(t)
	f.medium.setFailRead(true)

	_, err := f.svc.ListDomains(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsStoreIOError(err))
}

func TestCheckDomain_DoesNotPersist(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	rec, err := f.svc.CheckDomain(ctx, " example.com ")
	require.NoError(t, err)
	assert.Equal(t, "example.com", rec.Name)
	assert.Equal(t, "30", rec.RemainingDays.String())

	records, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, f.medium.writeCount())
}

func TestCheckAndSaveDomain_PersistsAndReturnsRecord(t *testing.T) {
	f := newServiceFixture(t, record("old.example"))
	ctx := context.Background()

	rec, err := f.svc.CheckAndSaveDomain(ctx, " example.com ")
	require.NoError(t, err)
	assert.Equal(t, "example.com", rec.Name)
	assert.Equal(t, "30", rec.RemainingDays.String())

	records, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.example", "example.com"}, names(records))
	assert.Equal(t, rec, records[1])
}

func TestCheckAndSaveDomain_FetchFailureLeavesRegistryUntouched(t *testing.T) {
	f := newServiceFixture(t)
	f.source.failures["down.example"] = certsource.ErrHandshake
	writes := f.medium.writeCount()

	_, err := f.svc.CheckAndSaveDomain(context.Background(), "down.example")
	require.Error(t, err)
	assert.True(t, model.IsCertificateFetchError(err))
	assert.Equal(t, writes, f.medium.writeCount())
}

func TestCheckDomain_FetchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.source.failures["nx.example"] = certsource.ErrNameResolution

	_, err := f.svc.CheckDomain(context.Background(), "nx.example")
	require.Error(t, err)
	assert.True(t, model.IsCertificateFetchError(err))
	assert.True(t, errors.Is(err, certsource.ErrNameResolution))
}

func TestConcurrentAddDomain_DistinctNames(t *testing.T) {
	const n = 30
	f := newServiceFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddDomain(ctx, fmt.Sprintf("d%02d.example", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	records, err := f.svc.ListDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, records, n)
	assert.ElementsMatch(t, uniqueNames(n), names(records))
}

func TestConcurrentAddAndRemove_NoLostUpdate(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newServiceFixture(t, record("b.example"))
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddDomain(ctx, "a.example")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.RemoveDomain(ctx, "b.example")
			assert.NoError(t, err)
		}()
		wg.Wait()

		records, err := f.svc.ListDomains(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.example"}, names(records))
	}
}

func TestAddDomain_SlowFetchDoesNotBlockStore(t *testing.T) {
	f := newServiceFixture(t, record("b.example"))
	f.source.release = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.AddDomain(ctx, "slow.example")
		done <- err
	}()

	// 証明書取得が保留中でもStoreの操作は完了する
	require.Eventually(t, func() bool { return f.source.calls.Load() == 1 }, time.Second, time.Millisecond)

	records, err := f.svc.RemoveDomain(ctx, "b.example")
	require.NoError(t, err)
	assert.Empty(t, records)

	close(f.source.release)
	require.NoError(t, <-done)

	records, err = f.svc.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"slow.example"}, names(records))
}

func TestConcurrentFetches_AreCoalescedPerHost(t *testing.T) {
	f := newServiceFixture(t)
	f.source.release = make(chan struct{})
	ctx := context.Background()

	const callers = 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckDomain(ctx, "example.com")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return f.source.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.source.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.source.calls.Load())
}

func TestService_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	source := newFakeSource(fixedNow, 10)
	source.failures["bad.example"] = certsource.ErrSourceUnavailable
	store := NewStore(newSpyMedium(), nil, collector)
	require.NoError(t, store.Init(context.Background()))
	svc := NewService(source, store, nil, nil, collector)
	ctx := context.Background()

	_, err := svc.AddDomain(ctx, "a.example")
	require.NoError(t, err)
	_, err = svc.AddDomain(ctx, "bad.example")
	require.Error(t, err)
	_, err = svc.RemoveDomain(ctx, "a.example")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "/" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["certman_domains_added_total"])
	assert.Equal(t, 1.0, values["certman_domains_removed_total"])
	assert.Equal(t, 1.0, values["certman_certificate_fetch_total/success"])
	assert.Equal(t, 1.0, values["certman_certificate_fetch_total/failure"])
	assert.Equal(t, 0.0, values["certman_tracked_domains"])
}

func TestService_SpansRecordOutcome(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newServiceFixture(t)
	f.svc.tracer = tp.Tracer(tracerName)
	f.source.failures["bad.example"] = certsource.ErrHandshake
	ctx := context.Background()

	_, err := f.svc.AddDomain(ctx, "bad.example")
	require.Error(t, err)
	_, err = f.svc.AddDomain(ctx, "good.example")
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	failed := spans[0]
	assert.Equal(t, "registry.AddDomain", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Status().Description, "bad.example")
	require.NotEmpty(t, failed.Events())
	assert.Equal(t, "exception", failed.Events()[0].Name)
	assert.Contains(t, failed.Attributes(), attribute.String("domain", "bad.example"))

	ok := spans[1]
	assert.Equal(t, "registry.AddDomain", ok.Name())
	assert.Equal(t, codes.Unset, ok.Status().Code)
	assert.Contains(t, ok.Attributes(), attribute.String("certificate.remaining_days", "30"))
}
