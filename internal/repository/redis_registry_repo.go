package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/certman/internal/model"
)

// DefaultRedisKey はレジストリを保存するRedisキーのデフォルト値。
const DefaultRedisKey = "certman:domains"

// RedisRegistryRepo はRedisの1キーにJSON配列としてレジストリを保存する永続化媒体。
// SETは単一コマンドで値全体を置き換えるため、書き込みは全か無かになる。
type RedisRegistryRepo struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRegistryRepo はRedisRegistryRepoを生成する。
// keyが空の場合はDefaultRedisKeyを使用する。
func NewRedisRegistryRepo(client redis.UniversalClient, key string) *RedisRegistryRepo {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisRegistryRepo{client: client, key: key}
}

// Init はキーが存在しない場合に空の配列を書き込む。
func (r *RedisRegistryRepo) Init(ctx context.Context) error {
	if err := r.client.SetNX(ctx, r.key, "[]", 0).Err(); err != nil {
		return fmt.Errorf("Redisキーの初期化に失敗しました: %w", err)
	}
	return nil
}

// ReadAll はキーの値をデコードして全レコードを返す。
func (r *RedisRegistryRepo) ReadAll(ctx context.Context) ([]model.DomainRecord, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.DomainRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Redisからの読み込みに失敗しました: %w", err)
	}

	records := []model.DomainRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("Redisデータのデコードに失敗しました: %w", err)
	}
	return records, nil
}

// WriteAll は全レコードをJSON配列としてキーに書き込む。
func (r *RedisRegistryRepo) WriteAll(ctx context.Context, records []model.DomainRecord) error {
	if records == nil {
		records = []model.DomainRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("Redisデータのエンコードに失敗しました: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("Redisへの書き込みに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RegistryMedium = (*RedisRegistryRepo)(nil)
