// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DomainGuard は登録・照会されるドメイン名を静的に検証する。
// マークアップを含む名前、IDNA変換できない名前、内部ネットワークを指す名前を拒否する。
// 名前解決後のアドレスは接続時にIsBlockedIPで検証する（certsource参照）。
package security

import (
	"fmt"
	"net"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/idna"
)

// maxDomainLength はASCII形式でのドメイン名の最大長（RFC 1035）。
const maxDomainLength = 253

// blockedNetworks はドメインとして指定できないネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// DomainGuard はドメイン名の検証器。
// bluemondayのポリシーを保持し、スレッドセーフに検証を行う。
type DomainGuard struct {
	policy *bluemonday.Policy
}

// NewDomainGuard はDomainGuardを生成する。
func NewDomainGuard() *DomainGuard {
	return &DomainGuard{policy: bluemonday.StrictPolicy()}
}

// Validate はドメイン名を検証し、問題があれば理由を含むエラーを返す。
// DNS解決は行わない。
func (g *DomainGuard) Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("ドメイン名が空です")
	}

	// UIでそのまま描画されるため、マークアップを含む名前は受け付けない
	if g.policy.Sanitize(name) != name {
		return fmt.Errorf("ドメイン名にマークアップが含まれています")
	}

	if strings.ContainsAny(name, " \t\r\n/:@?#") {
		return fmt.Errorf("ドメイン名に使用できない文字が含まれています")
	}

	host := strings.TrimSuffix(name, ".")

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if IsBlockedIP(ip) {
			return fmt.Errorf("内部ネットワークのアドレスは指定できません: %s", ip.String())
		}
		return nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return fmt.Errorf("ドメイン名の形式が正しくありません: %v", err)
	}
	if len(ascii) > maxDomainLength {
		return fmt.Errorf("ドメイン名が長すぎます（最大%d文字）", maxDomainLength)
	}
	for _, label := range strings.Split(ascii, ".") {
		if label == "" {
			return fmt.Errorf("空のラベルを含むドメイン名は指定できません")
		}
	}

	if isBlockedHostname(ascii) {
		return fmt.Errorf("指定できないホスト名です: %s", host)
	}

	return nil
}

// IsBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
// 未指定アドレスとマルチキャストも対象とする。
func IsBlockedIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname はホスト名がlocalhostまたはそのサブドメインかを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
