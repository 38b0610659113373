// Package whois はドメインの登録情報（レジストラと登録期限）を照会する。
package whois

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/hitoshi/certman/internal/expiry"
	"github.com/hitoshi/certman/internal/model"
)

// Info はWHOIS応答から抽出した登録情報。
// 値が見つからない項目はmodel.Unknownとなる。
type Info struct {
	Domain     string `json:"domain"`
	Registered bool   `json:"registered"`
	Registrar  string `json:"registrar"`
	CreatedAt  string `json:"createdAt"`
	ExpiresAt  string `json:"expiresAt"`
}

// QueryFunc はWHOISの生応答を取得する関数。
type QueryFunc func(domain string) (string, error)

// Client はWHOIS照会を行うクライアント。
type Client struct {
	query  QueryFunc
	logger *slog.Logger
}

// NewClient はlikexian/whoisを使用するClientを生成する。
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wc := whois.NewClient().SetTimeout(timeout)
	return NewClientWithQuery(func(domain string) (string, error) {
		return wc.Whois(domain)
	}, logger)
}

// NewClientWithQuery は任意の照会関数を使用するClientを生成する。
func NewClientWithQuery(query QueryFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{query: query, logger: logger}
}

type queryResult struct {
	raw string
	err error
}

// Lookup はドメインのWHOIS情報を取得する。
// ctxがキャンセルされた場合は照会の完了を待たずに返る。
func (c *Client) Lookup(ctx context.Context, domain string) (*Info, error) {
	done := make(chan queryResult, 1)
	go func() {
		raw, err := c.query(domain)
		done <- queryResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("whois lookup canceled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			c.logger.Warn("WHOIS照会に失敗しました",
				slog.String("domain", domain),
				slog.String("error", res.err.Error()),
			)
			return nil, fmt.Errorf("whois lookup failed: %w", res.err)
		}
		info, perr := parse(domain, res.raw)
		if perr != nil {
			c.logger.Debug("WHOIS応答から登録情報を得られませんでした",
				slog.String("domain", domain),
				slog.Bool("not_found", errors.Is(perr, whoisparser.ErrNotFoundDomain)),
				slog.String("error", perr.Error()),
			)
		}
		return info, nil
	}
}

// Parse はWHOISの生応答から登録情報を抽出する。
// 未登録や解釈できない応答の場合はRegistered=falseとなる。
func Parse(domain, raw string) *Info {
	info, _ := parse(domain, raw)
	return info
}

func parse(domain, raw string) (*Info, error) {
	info := &Info{
		Domain:    domain,
		Registrar: model.Unknown,
		CreatedAt: model.Unknown,
		ExpiresAt: model.Unknown,
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return info, err
	}

	if parsed.Registrar != nil && parsed.Registrar.Name != "" {
		info.Registrar = parsed.Registrar.Name
	}
	if d := parsed.Domain; d != nil {
		info.CreatedAt = formatDate(d.CreatedDate, d.CreatedDateInTime)
		info.ExpiresAt = formatDate(d.ExpirationDate, d.ExpirationDateInTime)
	}
	info.Registered = true

	return info, nil
}

// formatDate は日付を表示形式に揃える。解釈できなかった場合は元の値を返す。
func formatDate(raw string, t *time.Time) string {
	if t != nil && !t.IsZero() {
		return t.UTC().Format(expiry.DisplayLayout)
	}
	if raw == "" {
		return model.Unknown
	}
	return raw
}
