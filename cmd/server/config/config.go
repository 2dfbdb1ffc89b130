package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MpesaConfig holds Daraja credentials and callback addressing.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackSecret string
	PublicBaseURL  string
	Timeout        *time.Duration
	Currency       string
}

// CallbackURL is the publicly reachable callback endpoint, carrying the
// shared secret as its final path segment.
func (c MpesaConfig) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/payments/callback/" + c.CallbackSecret
}

// HTTPConfig holds the public HTTP listen address.
type HTTPConfig struct {
	Addr string
}

// RedisConfig holds connection settings for the payment event store.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	StatusTTL          time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
}

// CallbackLimitConfig throttles the provider callback route.
type CallbackLimitConfig struct {
	Interval time.Duration
	Burst    int
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// SweepConfig controls the stuck-PENDING reconciliation sweep.
type SweepConfig struct {
	Interval time.Duration
	MinAge   time.Duration
}

// LoadMpesa reads Daraja settings from env.
func LoadMpesa() (MpesaConfig, error) {
	cfg := MpesaConfig{
		BaseURL:  strings.TrimSpace(os.Getenv("MPESA_BASE_URL")),
		Currency: strings.TrimSpace(os.Getenv("PAYMENT_CURRENCY")),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}

	var err error
	if cfg.ConsumerKey, err = requiredString("MPESA_CONSUMER_KEY"); err != nil {
		return cfg, err
	}
	if cfg.ConsumerSecret, err = requiredString("MPESA_CONSUMER_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.ShortCode, err = requiredString("MPESA_SHORTCODE"); err != nil {
		return cfg, err
	}
	if cfg.Passkey, err = requiredString("MPESA_PASSKEY"); err != nil {
		return cfg, err
	}
	if cfg.CallbackSecret, err = requiredString("MPESA_CALLBACK_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.PublicBaseURL, err = requiredString("PUBLIC_BASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = optionalDuration("MPESA_HTTP_TIMEOUT"); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadHTTP reads the public listen address from env.
func LoadHTTP() (HTTPConfig, error) {
	addr, err := requiredString("HTTP_ADDR")
	if err != nil {
		return HTTPConfig{}, err
	}
	return HTTPConfig{Addr: addr}, nil
}

// LoadRedis reads payment event store settings from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}
	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.StatusTTL, err = requiredDuration("REDIS_STATUS_TTL"); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = requiredInt64("REDIS_STREAM_MAXLEN"); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadCallbackLimit reads callback throttle settings from env. A nil
// config means the route runs unthrottled.
func LoadCallbackLimit() (*CallbackLimitConfig, error) {
	interval, err := optionalDuration("CALLBACK_RATE_LIMIT_INTERVAL")
	if err != nil {
		return nil, err
	}
	if interval == nil {
		return nil, nil
	}
	burst, err := optionalInt("CALLBACK_RATE_LIMIT_BURST")
	if err != nil {
		return nil, err
	}
	cfg := &CallbackLimitConfig{Interval: *interval, Burst: 1}
	if burst != nil && *burst > 0 {
		cfg.Burst = *burst
	}
	return cfg, nil
}

// LoadObservability reads the metrics HTTP address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// LoadSweep reads the pending-transaction sweep settings from env.
func LoadSweep() (SweepConfig, error) {
	interval, err := requiredDuration("PAYMENT_SWEEP_INTERVAL")
	if err != nil {
		return SweepConfig{}, err
	}
	minAge, err := requiredDuration("PAYMENT_SWEEP_MIN_AGE")
	if err != nil {
		return SweepConfig{}, err
	}
	return SweepConfig{Interval: interval, MinAge: minAge}, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
