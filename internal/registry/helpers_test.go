package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/certman/internal/certsource"
	"github.com/hitoshi/certman/internal/expiry"
	"github.com/hitoshi/certman/internal/model"
	"github.com/hitoshi/certman/internal/repository"
)

var errMedium = errors.New("disk full")

// spyMedium はMemoryRegistryをラップし、書き込み回数の記録と障害注入を行う。
type spyMedium struct {
	*repository.MemoryRegistry

	mu        sync.Mutex
	writes    int
	failRead  bool
	failWrite bool
}

func newSpyMedium(initial ...model.DomainRecord) *spyMedium {
	return &spyMedium{MemoryRegistry: repository.NewMemoryRegistry(initial...)}
}

func (m *spyMedium) ReadAll(ctx context.Context) ([]model.DomainRecord, error) {
	m.mu.Lock()
	fail := m.failRead
	m.mu.Unlock()
	if fail {
		return nil, errMedium
	}
	return m.MemoryRegistry.ReadAll(ctx)
}

func (m *spyMedium) WriteAll(ctx context.Context, records []model.DomainRecord) error {
	m.mu.Lock()
	m.writes++
	fail := m.failWrite
	m.mu.Unlock()
	if fail {
		return errMedium
	}
	// 読み込みと書き込みの間に他の書き込みが割り込む余地を広げる
	time.Sleep(time.Millisecond)
	return m.MemoryRegistry.WriteAll(ctx, records)
}

func (m *spyMedium) setFailWrite(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = v
}

func (m *spyMedium) setFailRead(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead = v
}

func (m *spyMedium) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// fakeSource は固定の有効期間を返す証明書ソース。
type fakeSource struct {
	validFrom string
	validTo   string
	failures  map[string]error

	// releaseがnilでない場合、Getはクローズされるまでブロックする
	release chan struct{}
	calls   atomic.Int32
}

func newFakeSource(now time.Time, days int) *fakeSource {
	return &fakeSource{
		validFrom: expiry.FormatSource(now.AddDate(0, 0, -60)),
		validTo:   expiry.FormatSource(now.AddDate(0, 0, days)),
		failures:  map[string]error{},
	}
}

func (f *fakeSource) Get(ctx context.Context, domain string) (*certsource.Certificate, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.failures[domain]; ok {
		return nil, err
	}
	return &certsource.Certificate{ValidFrom: f.validFrom, ValidTo: f.validTo}, nil
}

func record(name string) model.DomainRecord {
	return model.DomainRecord{
		Name:          name,
		StartDate:     "01 Jan 2024 00:00",
		EndDate:       "01 Jan 2025 00:00",
		RemainingDays: model.KnownDays(100),
	}
}

func names(records []model.DomainRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}
