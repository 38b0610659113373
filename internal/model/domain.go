// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Unknown は日付や残日数を決定できなかった場合の表示値。
const Unknown = "unknown"

// DomainRecord は監視対象ドメイン1件の証明書有効期間サマリを表す。
// 登録後にレコード自体が書き換えられることはない。
type DomainRecord struct {
	Name          string        `json:"name"`
	StartDate     string        `json:"startDate"`
	EndDate       string        `json:"endDate"`
	RemainingDays RemainingDays `json:"remainingDays"`
}

// RemainingDays は証明書失効までの残日数を表すタグ付き値。
// Known(n) (n >= 0) または Unknown のいずれかを取り、負数を保持することはない。
type RemainingDays struct {
	days  int
	known bool
}

// KnownDays は残日数nを表すRemainingDaysを返す。
// nが負数の場合はUnknownDaysに縮退する。
func KnownDays(n int) RemainingDays {
	if n < 0 {
		return UnknownDays()
	}
	return RemainingDays{days: n, known: true}
}

// UnknownDays は残日数が不明であることを表すRemainingDaysを返す。
func UnknownDays() RemainingDays {
	return RemainingDays{}
}

// Value は残日数と、それが既知かどうかを返す。
func (d RemainingDays) Value() (int, bool) {
	return d.days, d.known
}

// IsKnown は残日数が既知の場合にtrueを返す。
func (d RemainingDays) IsKnown() bool {
	return d.known
}

// String は残日数の表示値を返す。不明な場合はUnknownを返す。
func (d RemainingDays) String() string {
	if !d.known {
		return Unknown
	}
	return strconv.Itoa(d.days)
}

// MarshalText はXMLやDB保存用のテキスト表現を返す。
func (d RemainingDays) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText はテキスト表現から残日数を復元する。
// 数値として解釈できない値や負数はUnknownとして扱う。
func (d *RemainingDays) UnmarshalText(text []byte) error {
	*d = ParseRemainingDays(string(text))
	return nil
}

// MarshalJSON は既知の場合は数値、不明の場合は文字列"unknown"を出力する。
func (d RemainingDays) MarshalJSON() ([]byte, error) {
	if !d.known {
		return json.Marshal(Unknown)
	}
	return json.Marshal(d.days)
}

// UnmarshalJSON は数値または文字列表現を受け付ける。
func (d *RemainingDays) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*d = KnownDays(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("remainingDays must be a number or string: %w", err)
	}
	*d = ParseRemainingDays(s)
	return nil
}

// ParseRemainingDays は保存済みのテキスト値を残日数に変換する。
func ParseRemainingDays(s string) RemainingDays {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return UnknownDays()
	}
	return KnownDays(n)
}
