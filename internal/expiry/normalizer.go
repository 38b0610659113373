// Package expiry は証明書の有効期間を表示用の値に正規化する純粋関数を提供する。
package expiry

import (
	"strings"
	"time"

	"github.com/hitoshi/certman/internal/model"
)

const (
	// SourceLayout は証明書ソースが返すタイムスタンプ形式（OpenSSLのテキスト表現）。
	// 日は空白埋め・ゼロ埋めのどちらも受け付ける。
	SourceLayout = "Jan _2 15:04:05 2006 MST"

	// DisplayLayout は正規化後の表示形式。
	DisplayLayout = "02 Jan 2006 15:04"

	secondsPerDay = 24 * 60 * 60
)

// Result は正規化結果。
type Result struct {
	StartDate     string
	EndDate       string
	RemainingDays model.RemainingDays
}

// Normalize は証明書の有効期間境界と現在時刻から表示用の値を算出する。
// パースできない境界はmodel.Unknownになる。
// 残日数はrawEndとnowの差を日単位で0方向に切り捨てた値で、
// rawEndがパースできない場合または負数の場合はUnknownになる。
func Normalize(rawStart, rawEnd string, now time.Time) Result {
	res := Result{
		StartDate:     model.Unknown,
		EndDate:       model.Unknown,
		RemainingDays: model.UnknownDays(),
	}

	if start, ok := parse(rawStart); ok {
		res.StartDate = start.Format(DisplayLayout)
	}

	end, ok := parse(rawEnd)
	if !ok {
		return res
	}
	res.EndDate = end.Format(DisplayLayout)
	res.RemainingDays = model.KnownDays(int((end.Unix() - now.Unix()) / secondsPerDay))

	return res
}

// Record はドメイン名と正規化結果からDomainRecordを組み立てる。
func (r Result) Record(name string) model.DomainRecord {
	return model.DomainRecord{
		Name:          name,
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		RemainingDays: r.RemainingDays,
	}
}

// FormatSource はtime.Timeを証明書ソースのタイムスタンプ形式に変換する。
func FormatSource(t time.Time) string {
	return t.UTC().Format("Jan _2 15:04:05 2006") + " GMT"
}

func parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(SourceLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
