package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/certman/internal/model"
)

// MemoryRegistry はプロセス内メモリを使用するレジストリの永続化媒体。
// テストおよびSTORE_BACKEND=memoryで使用する。
type MemoryRegistry struct {
	mu      sync.Mutex
	records []model.DomainRecord
}

// NewMemoryRegistry はMemoryRegistryを生成する。
func NewMemoryRegistry(initial ...model.DomainRecord) *MemoryRegistry {
	return &MemoryRegistry{records: append([]model.DomainRecord(nil), initial...)}
}

// Init は何もしない。
func (r *MemoryRegistry) Init(ctx context.Context) error {
	return nil
}

// ReadAll は保持しているレコードのコピーを返す。
func (r *MemoryRegistry) ReadAll(ctx context.Context) ([]model.DomainRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.DomainRecord, len(r.records))
	copy(out, r.records)
	return out, nil
}

// WriteAll は保持しているレコードを置き換える。
func (r *MemoryRegistry) WriteAll(ctx context.Context, records []model.DomainRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append([]model.DomainRecord(nil), records...)
	return nil
}

// compile-time interface check
var _ RegistryMedium = (*MemoryRegistry)(nil)
