// Package repository はデータ永続化のインターフェースと、その媒体ごとの実装を定義する。
package repository

import (
	"context"

	"github.com/hitoshi/certman/internal/model"
)

// RegistryMedium はレジストリ（DomainRecordの順序付きコレクション）を保持する永続化媒体。
// 1つの名前付きリソースに対する全件読み込みと全件書き込みのみを提供する。
// 読み込み→変更→書き込みの直列化は呼び出し側（registry.Store）の責務とする。
type RegistryMedium interface {
	// Init はコレクションが存在しない場合に空のコレクションを作成する。
	Init(ctx context.Context) error

	// ReadAll はコレクション全体を挿入順で返す。
	// コレクションが未作成の場合は空スライスを返す。
	ReadAll(ctx context.Context) ([]model.DomainRecord, error)

	// WriteAll はコレクション全体を置き換える。
	// 失敗した場合は直前の永続状態が維持される。
	WriteAll(ctx context.Context, records []model.DomainRecord) error
}
