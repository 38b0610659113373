// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// 永続化媒体の種別
const (
	BackendXML      = "xml"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string

	// Store
	StoreBackend string
	RegistryFile string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string
	RedisKey     string

	// Certificate
	CertPort    string
	CertTimeout time.Duration
	// 解決先がプライベート・ループバック等のアドレスでも証明書を取得する（社内ホスト監視用）
	CertAllowPrivateNetworks bool

	// Whois
	WhoisTimeout time.Duration

	// Scan
	ScanInterval      time.Duration
	ScanMaxConcurrent int

	// Rate Limit
	RateLimitGeneral      int
	RateLimitRegistration int

	// CORS（カンマ区切りで複数のオリジンを指定できる）
	CORSAllowedOrigin string

	// Logging
	LogFormat string
	LogLevel  string

	// Tracing（none または stdout）
	TraceExporter string
}

// トレースのエクスポーター種別
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// fileConfig はCONFIG_FILEで指定するTOMLファイルの構造。
// 値は対応する環境変数が未設定の場合の既定値として使用する。
type fileConfig struct {
	Server struct {
		Port                  string `toml:"port"`
		CORSAllowedOrigin     string `toml:"cors_allowed_origin"`
		RateLimitGeneral      int    `toml:"rate_limit_general"`
		RateLimitRegistration int    `toml:"rate_limit_registration"`
	} `toml:"server"`
	Store struct {
		Backend      string `toml:"backend"`
		RegistryFile string `toml:"registry_file"`
		DatabaseURL  string `toml:"database_url"`
		SQLitePath   string `toml:"sqlite_path"`
		RedisURL     string `toml:"redis_url"`
		RedisKey     string `toml:"redis_key"`
	} `toml:"store"`
	Certificate struct {
		Port                 string `toml:"port"`
		Timeout              string `toml:"timeout"`
		AllowPrivateNetworks bool   `toml:"allow_private_networks"`
	} `toml:"certificate"`
	Whois struct {
		Timeout string `toml:"timeout"`
	} `toml:"whois"`
	Scan struct {
		Interval      string `toml:"interval"`
		MaxConcurrent int    `toml:"max_concurrent"`
	} `toml:"scan"`
	Log struct {
		Format string `toml:"format"`
		Level  string `toml:"level"`
	} `toml:"log"`
	Trace struct {
		Exporter string `toml:"exporter"`
	} `toml:"trace"`
}

// values は環境変数名をキーとした既定値に変換する。
func (f *fileConfig) values() map[string]string {
	v := map[string]string{
		"SERVER_PORT":         f.Server.Port,
		"CORS_ALLOWED_ORIGIN": f.Server.CORSAllowedOrigin,
		"STORE_BACKEND":       f.Store.Backend,
		"REGISTRY_FILE":       f.Store.RegistryFile,
		"DATABASE_URL":        f.Store.DatabaseURL,
		"SQLITE_PATH":         f.Store.SQLitePath,
		"REDIS_URL":           f.Store.RedisURL,
		"REDIS_KEY":           f.Store.RedisKey,
		"CERT_PORT":           f.Certificate.Port,
		"CERT_TIMEOUT":        f.Certificate.Timeout,
		"WHOIS_TIMEOUT":       f.Whois.Timeout,
		"SCAN_INTERVAL":       f.Scan.Interval,
		"LOG_FORMAT":          f.Log.Format,
		"LOG_LEVEL":           f.Log.Level,
		"TRACE_EXPORTER":      f.Trace.Exporter,
	}
	if f.Certificate.AllowPrivateNetworks {
		v["CERT_ALLOW_PRIVATE_NETWORKS"] = "true"
	}
	if f.Server.RateLimitGeneral != 0 {
		v["RATE_LIMIT_GENERAL"] = strconv.Itoa(f.Server.RateLimitGeneral)
	}
	if f.Server.RateLimitRegistration != 0 {
		v["RATE_LIMIT_REGISTRATION"] = strconv.Itoa(f.Server.RateLimitRegistration)
	}
	if f.Scan.MaxConcurrent != 0 {
		v["SCAN_MAX_CONCURRENT"] = strconv.Itoa(f.Scan.MaxConcurrent)
	}
	return v
}

// env は環境変数を優先し、未設定の場合はファイルの値を返す。
type env map[string]string

func (e env) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e[key]
}

// Load は環境変数（とCONFIG_FILEで指定されたTOMLファイル）からConfigを読み込む。
// 選択した媒体に必要な値が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	defaults := env{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		defaults = fc.values()
	}

	cfg := &Config{}

	cfg.ServerPort = getEnvString(defaults, "SERVER_PORT", "8080")
	cfg.StoreBackend = strings.ToLower(getEnvString(defaults, "STORE_BACKEND", BackendXML))
	cfg.RegistryFile = getEnvString(defaults, "REGISTRY_FILE", "./domains.xml")
	cfg.DatabaseURL = getEnvString(defaults, "DATABASE_URL", "")
	cfg.SQLitePath = getEnvString(defaults, "SQLITE_PATH", "./certman.db")
	cfg.RedisURL = getEnvString(defaults, "REDIS_URL", "")
	cfg.RedisKey = getEnvString(defaults, "REDIS_KEY", "certman:domains")
	cfg.CertPort = getEnvString(defaults, "CERT_PORT", "443")
	cfg.CertTimeout = getEnvDuration(defaults, "CERT_TIMEOUT", 10*time.Second)
	cfg.CertAllowPrivateNetworks = getEnvBool(defaults, "CERT_ALLOW_PRIVATE_NETWORKS", false)
	cfg.WhoisTimeout = getEnvDuration(defaults, "WHOIS_TIMEOUT", 10*time.Second)
	cfg.ScanInterval = getEnvDuration(defaults, "SCAN_INTERVAL", 6*time.Hour)
	cfg.ScanMaxConcurrent = getEnvInt(defaults, "SCAN_MAX_CONCURRENT", 5)
	cfg.RateLimitGeneral = getEnvInt(defaults, "RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegistration = getEnvInt(defaults, "RATE_LIMIT_REGISTRATION", 10)
	cfg.CORSAllowedOrigin = getEnvString(defaults, "CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogFormat = strings.ToLower(getEnvString(defaults, "LOG_FORMAT", "json"))
	cfg.LogLevel = strings.ToLower(getEnvString(defaults, "LOG_LEVEL", "info"))
	cfg.TraceExporter = strings.ToLower(getEnvString(defaults, "TRACE_EXPORTER", TraceExporterNone))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は媒体ごとの必須値と列挙値を検証する。
func (c *Config) validate() error {
	var missing []string

	switch c.StoreBackend {
	case BackendXML, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND: %q", c.StoreBackend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unsupported LOG_FORMAT: %q", c.LogFormat)
	}

	if c.TraceExporter != TraceExporterNone && c.TraceExporter != TraceExporterStdout {
		return fmt.Errorf("unsupported TRACE_EXPORTER: %q", c.TraceExporter)
	}

	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive: %s", c.ScanInterval)
	}
	if c.CertTimeout <= 0 {
		return fmt.Errorf("CERT_TIMEOUT must be positive: %s", c.CertTimeout)
	}

	return nil
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func getEnvString(e env, key, defaultVal string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(e env, key string, defaultVal int) int {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(e env, key string, defaultVal time.Duration) time.Duration {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(e env, key string, defaultVal bool) bool {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
