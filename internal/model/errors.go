// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, certificate, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDomain          = "INVALID_DOMAIN"
	ErrCodeCertificateFetchFailed = "CERTIFICATE_FETCH_FAILED"
	ErrCodeStoreIOFailed          = "STORE_IO_FAILED"
	ErrCodeWhoisFailed            = "WHOIS_FAILED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewInvalidDomainError はドメイン名の入力検証エラー（ValidationError）を生成する。
func NewInvalidDomainError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDomain,
		Message:  fmt.Sprintf("無効なドメイン名です: %s", reason),
		Category: "validation",
		Action:   "example.com のような公開ドメイン名を入力してください。",
	}
}

// NewCertificateFetchError は証明書取得失敗エラー（CertificateFetchError）を生成する。
// レジストリは変更されていないことを保証する。
func NewCertificateFetchError(domain string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeCertificateFetchFailed,
		Message:  fmt.Sprintf("証明書の取得に失敗しました: %s", domain),
		Category: "certificate",
		Action:   "ドメイン名とHTTPSの提供状況を確認し、しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewStoreIOError は永続化媒体の読み書き失敗エラー（StoreIOError）を生成する。
func NewStoreIOError(operation string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreIOFailed,
		Message:  fmt.Sprintf("レジストリの%sに失敗しました", operation),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewWhoisFailedError はWHOIS照会失敗エラーを生成する。
func NewWhoisFailedError(domain string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeWhoisFailed,
		Message:  fmt.Sprintf("WHOIS情報の取得に失敗しました: %s", domain),
		Category: "certificate",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式またはフォーム形式でリクエストしてください。",
		cause:    cause,
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は詳細を隠した内部エラーを生成する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// IsValidationError はerrがValidationErrorかどうかを判定する。
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeInvalidDomain) || hasCode(err, ErrCodeInvalidRequest)
}

// IsCertificateFetchError はerrがCertificateFetchErrorかどうかを判定する。
func IsCertificateFetchError(err error) bool {
	return hasCode(err, ErrCodeCertificateFetchFailed)
}

// IsStoreIOError はerrがStoreIOErrorかどうかを判定する。
func IsStoreIOError(err error) bool {
	return hasCode(err, ErrCodeStoreIOFailed)
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
