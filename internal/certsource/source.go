// Package certsource はドメインのTLS証明書の有効期間境界を取得する。
package certsource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/idna"

	"github.com/hitoshi/certman/internal/expiry"
	"github.com/hitoshi/certman/internal/security"
)

// 証明書取得失敗の分類。
var (
	ErrSourceUnavailable = errors.New("certificate source unavailable")
	ErrNameResolution    = errors.New("name resolution failed")
	ErrHandshake         = errors.New("tls handshake failed")
	ErrBlockedAddress    = errors.New("destination address is not allowed")
)

// Certificate は証明書ソースが返す生の有効期間境界。
// 値はexpiry.SourceLayout形式の文字列。
type Certificate struct {
	ValidFrom string
	ValidTo   string
}

// Source は証明書ソースのインターフェース。
type Source interface {
	Get(ctx context.Context, domain string) (*Certificate, error)
}

// TLSSourceConfig はTLSSourceの設定。
type TLSSourceConfig struct {
	Port    string        // 接続先ポート（デフォルト: 443）
	Timeout time.Duration // ダイヤルとハンドシェイクのタイムアウト（デフォルト: 10秒）
	// trueの場合、解決先がプライベート・ループバック等のアドレスでも接続する
	AllowPrivateNetworks bool
}

// TLSSource はTLSハンドシェイクでリーフ証明書を取得する証明書ソース。
// 有効期限切れの証明書も読み取る必要があるため、チェーン検証は行わない。
type TLSSource struct {
	port         string
	timeout      time.Duration
	allowPrivate bool
}

// NewTLSSource はTLSSourceを生成する。
func NewTLSSource(cfg TLSSourceConfig) *TLSSource {
	if cfg.Port == "" {
		cfg.Port = "443"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TLSSource{port: cfg.Port, timeout: cfg.Timeout, allowPrivate: cfg.AllowPrivateNetworks}
}

// Get は指定ドメインに接続し、リーフ証明書の有効期間境界を返す。
func (s *TLSSource) Get(ctx context.Context, domain string) (*Certificate, error) {
	host, err := ASCIIHost(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNameResolution, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	netDialer := &net.Dialer{Timeout: s.timeout}
	if !s.allowPrivate {
		netDialer.Control = denyBlockedAddress
	}

	dialer := &tls.Dialer{
		NetDialer: netDialer,
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, //nolint:gosec // 有効期間の読み取りのみ
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, s.port))
	if err != nil {
		return nil, classify(err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected connection type %T", ErrSourceUnavailable, conn)
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no peer certificate presented by %s", ErrSourceUnavailable, host)
	}

	leaf := certs[0]
	return &Certificate{
		ValidFrom: expiry.FormatSource(leaf.NotBefore),
		ValidTo:   expiry.FormatSource(leaf.NotAfter),
	}, nil
}

// ASCIIHost はドメイン名を接続用のASCII（Punycode）形式に変換する。
func ASCIIHost(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return "", errors.New("empty domain")
	}
	if ip := net.ParseIP(strings.Trim(domain, "[]")); ip != nil {
		return ip.String(), nil
	}
	return idna.Lookup.ToASCII(domain)
}

// denyBlockedAddress は名前解決後の接続先アドレスを検証するnet.DialerのControl関数。
// DNSで内部アドレスを指す名前への接続をここで止める。
func denyBlockedAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || security.IsBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// classify はダイヤルエラーを証明書取得失敗の分類に変換する。
func classify(err error) error {
	if errors.Is(err, ErrBlockedAddress) {
		return err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrNameResolution, err)
	}

	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) || errors.As(err, &certErr) ||
		strings.Contains(err.Error(), "tls:") {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}
