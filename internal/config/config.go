package config

import (
    "errors"
    "fmt"
    "net/netip"
    "net/url"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/spf13/pflag"
    "gopkg.in/yaml.v3"
)

type Config struct {
    ListenAddr           string        `yaml:"listen_addr"`
    RateLimitMax         int           `yaml:"rate_limit_max"`
    RateLimitWindow      time.Duration `yaml:"rate_limit_window"`
    ConcurrencyLimit     int           `yaml:"concurrency_limit"`
    MaxRequestBytes      int64         `yaml:"max_request_bytes"`
    MaxResponseBytes     int64         `yaml:"max_response_bytes"`
    MaxPromptBytes       int           `yaml:"max_prompt_bytes"`
    RequestTimeout       time.Duration `yaml:"request_timeout"`
    DelegateTimeout      time.Duration `yaml:"delegate_timeout"`
    ShutdownGrace        time.Duration `yaml:"shutdown_grace"`
    SandboxRoot          string        `yaml:"sandbox_root"`
    StoreURL             string        `yaml:"store_url"`
    RedisURL             string        `yaml:"redis_url"`
    DelegateURL          string        `yaml:"delegate_url"`
    DelegateSecret       string        `yaml:"delegate_secret"`
    DelegateMaxTurns     int           `yaml:"delegate_max_turns"`
    DelegateAllowPrivate bool          `yaml:"delegate_allow_private"`
    ToolMaxFileBytes     int64         `yaml:"tool_max_file_bytes"`
    ToolMaxEntries       int           `yaml:"tool_max_entries"`
    ToolMaxQueryBytes    int           `yaml:"tool_max_query_bytes"`
    AllowCIDRs           []string      `yaml:"allow_cidrs"`
    TrustForwardedFor    bool          `yaml:"trust_forwarded_for"`
    RetentionDays        int           `yaml:"retention_days"`
    LogLevel             string        `yaml:"log_level"`
    LogFormat            string        `yaml:"log_format"`
}

func Defaults() *Config {
    return &Config{
        ListenAddr:       ":8080",
        RateLimitMax:     60,
        RateLimitWindow:  time.Minute,
        ConcurrencyLimit: 4,
        MaxRequestBytes:  1 << 20,
        MaxResponseBytes: 1 << 20,
        MaxPromptBytes:   64 << 10,
        RequestTimeout:   90 * time.Second,
        DelegateTimeout:  60 * time.Second,
        ShutdownGrace:    10 * time.Second,
        SandboxRoot:      "./sandbox",
        StoreURL:         "gateway.db",
        DelegateMaxTurns: 8,
        ToolMaxFileBytes:  1 << 20,
        ToolMaxEntries:    500,
        ToolMaxQueryBytes: 64 << 10,
        RetentionDays:    7,
        LogLevel:         "info",
        LogFormat:        "json",
    }
}

// knob binds one setting to its environment variable and flag.
type knob struct {
    env, flag, usage string
    set              func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
    return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func num(dst func(*Config) *int) func(*Config, string) error {
    return func(c *Config, v string) error {
        n, err := strconv.Atoi(v)
        if err != nil { return err }
        *dst(c) = n
        return nil
    }
}

func num64(dst func(*Config) *int64) func(*Config, string) error {
    return func(c *Config, v string) error {
        n, err := strconv.ParseInt(v, 10, 64)
        if err != nil { return err }
        *dst(c) = n
        return nil
    }
}

func dur(dst func(*Config) *time.Duration) func(*Config, string) error {
    return func(c *Config, v string) error {
        d, err := time.ParseDuration(v)
        if err != nil { return err }
        *dst(c) = d
        return nil
    }
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
    return func(c *Config, v string) error {
        b, err := strconv.ParseBool(v)
        if err != nil { return err }
        *dst(c) = b
        return nil
    }
}

var knobs = []knob{
    {"LISTEN_ADDR", "listen", "address to accept connections on", str(func(c *Config) *string { return &c.ListenAddr })},
    {"RATE_LIMIT_MAX", "rate-limit-max", "requests allowed per client per window", num(func(c *Config) *int { return &c.RateLimitMax })},
    {"RATE_LIMIT_WINDOW", "rate-limit-window", "rate limit window length", dur(func(c *Config) *time.Duration { return &c.RateLimitWindow })},
    {"CONCURRENCY_LIMIT", "concurrency-limit", "maximum concurrent delegations", num(func(c *Config) *int { return &c.ConcurrencyLimit })},
    {"MAX_REQUEST_BYTES", "max-request-bytes", "request size ceiling in bytes", num64(func(c *Config) *int64 { return &c.MaxRequestBytes })},
    {"MAX_RESPONSE_BYTES", "max-response-bytes", "delegate output ceiling in bytes", num64(func(c *Config) *int64 { return &c.MaxResponseBytes })},
    {"MAX_PROMPT_BYTES", "max-prompt-bytes", "prompt size ceiling in bytes", num(func(c *Config) *int { return &c.MaxPromptBytes })},
    {"REQUEST_TIMEOUT", "request-timeout", "deadline for a whole request", dur(func(c *Config) *time.Duration { return &c.RequestTimeout })},
    {"DELEGATE_TIMEOUT", "delegate-timeout", "deadline for one delegation", dur(func(c *Config) *time.Duration { return &c.DelegateTimeout })},
    {"SHUTDOWN_GRACE", "shutdown-grace", "time in-flight requests get on shutdown", dur(func(c *Config) *time.Duration { return &c.ShutdownGrace })},
    {"SANDBOX_ROOT", "sandbox-root", "directory the file tools are confined to", str(func(c *Config) *string { return &c.SandboxRoot })},
    {"STORE_URL", "store-url", "sqlite path or postgres:// url", str(func(c *Config) *string { return &c.StoreURL })},
    {"REDIS_URL", "redis-url", "redis url for a shared rate limiter", str(func(c *Config) *string { return &c.RedisURL })},
    {"DELEGATE_URL", "delegate-url", "delegate turn endpoint", str(func(c *Config) *string { return &c.DelegateURL })},
    {"DELEGATE_SECRET", "delegate-secret", "HMAC secret for delegate requests", str(func(c *Config) *string { return &c.DelegateSecret })},
    {"DELEGATE_MAX_TURNS", "delegate-max-turns", "tool turns before a delegation fails", num(func(c *Config) *int { return &c.DelegateMaxTurns })},
    {"DELEGATE_ALLOW_PRIVATE", "delegate-allow-private", "allow the delegate on private addresses", boolean(func(c *Config) *bool { return &c.DelegateAllowPrivate })},
    {"TOOL_MAX_FILE_BYTES", "tool-max-file-bytes", "file tool payload ceiling", num64(func(c *Config) *int64 { return &c.ToolMaxFileBytes })},
    {"TOOL_MAX_ENTRIES", "tool-max-entries", "directory listing ceiling", num(func(c *Config) *int { return &c.ToolMaxEntries })},
    {"TOOL_MAX_QUERY_BYTES", "tool-max-query-bytes", "statement size ceiling", num(func(c *Config) *int { return &c.ToolMaxQueryBytes })},
    {"ALLOW_CIDRS", "allow-cidrs", "comma separated client allow list", func(c *Config, v string) error { c.AllowCIDRs = splitList(v); return nil }},
    {"TRUST_FORWARDED_FOR", "trust-forwarded-for", "take the client address from X-Forwarded-For", boolean(func(c *Config) *bool { return &c.TrustForwardedFor })},
    {"RETENTION_DAYS", "retention-days", "days of request log to keep", num(func(c *Config) *int { return &c.RetentionDays })},
    {"LOG_LEVEL", "log-level", "debug, info, warn or error", str(func(c *Config) *string { return &c.LogLevel })},
    {"LOG_FORMAT", "log-format", "json or text", str(func(c *Config) *string { return &c.LogFormat })},
}

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

// Parse layers defaults, an optional YAML file, the environment and finally
// command line flags, then validates the result.
func Parse(args []string) (*Config, error) {
    fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
    configPath := fs.String("config", getenv("GATEWAY_CONFIG", ""), "YAML config file")
    flagVals := make([]*string, len(knobs))
    for i, k := range knobs {
        flagVals[i] = fs.String(k.flag, "", k.usage+" ($"+k.env+")")
    }
    if err := fs.Parse(args); err != nil {
        return nil, err
    }

    cfg := Defaults()
    if *configPath != "" {
        raw, err := os.ReadFile(*configPath)
        if err != nil { return nil, fmt.Errorf("read config: %w", err) }
        if err := yaml.Unmarshal(raw, cfg); err != nil { return nil, fmt.Errorf("parse config: %w", err) }
    }
    for _, k := range knobs {
        if v := getenv(k.env, ""); v != "" {
            if err := k.set(cfg, v); err != nil { return nil, fmt.Errorf("invalid %s: %w", k.env, err) }
        }
    }
    for i, k := range knobs {
        if !fs.Changed(k.flag) { continue }
        if err := k.set(cfg, *flagVals[i]); err != nil { return nil, fmt.Errorf("invalid --%s: %w", k.flag, err) }
    }
    if err := cfg.Validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) Validate() error {
    var errs []error
    if c.DelegateURL == "" {
        errs = append(errs, errors.New("DELEGATE_URL is required"))
    } else if u, err := url.Parse(c.DelegateURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        errs = append(errs, errors.New("invalid DELEGATE_URL: want an http or https url"))
    }
    positive := map[string]int64{
        "RATE_LIMIT_MAX":       int64(c.RateLimitMax),
        "CONCURRENCY_LIMIT":    int64(c.ConcurrencyLimit),
        "MAX_REQUEST_BYTES":    c.MaxRequestBytes,
        "MAX_RESPONSE_BYTES":   c.MaxResponseBytes,
        "MAX_PROMPT_BYTES":     int64(c.MaxPromptBytes),
        "DELEGATE_MAX_TURNS":   int64(c.DelegateMaxTurns),
        "TOOL_MAX_FILE_BYTES":  c.ToolMaxFileBytes,
        "TOOL_MAX_ENTRIES":     int64(c.ToolMaxEntries),
        "TOOL_MAX_QUERY_BYTES": int64(c.ToolMaxQueryBytes),
        "RATE_LIMIT_WINDOW":    int64(c.RateLimitWindow),
        "REQUEST_TIMEOUT":      int64(c.RequestTimeout),
        "DELEGATE_TIMEOUT":     int64(c.DelegateTimeout),
        "SHUTDOWN_GRACE":       int64(c.ShutdownGrace),
    }
    for _, k := range knobs {
        if v, ok := positive[k.env]; ok && v <= 0 {
            errs = append(errs, fmt.Errorf("%s must be positive", k.env))
        }
    }
    if c.RetentionDays < 0 {
        errs = append(errs, errors.New("RETENTION_DAYS must not be negative"))
    }
    if _, err := c.AllowPrefixes(); err != nil {
        errs = append(errs, err)
    }
    return errors.Join(errs...)
}

// AllowPrefixes parses AllowCIDRs. A bare address is taken as a single host.
func (c *Config) AllowPrefixes() ([]netip.Prefix, error) {
    out := make([]netip.Prefix, 0, len(c.AllowCIDRs))
    for _, s := range c.AllowCIDRs {
        s = strings.TrimSpace(s)
        if s == "" { continue }
        if p, err := netip.ParsePrefix(s); err == nil {
            out = append(out, p.Masked())
            continue
        }
        addr, err := netip.ParseAddr(s)
        if err != nil { return nil, fmt.Errorf("invalid ALLOW_CIDRS entry %q", s) }
        out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
    }
    return out, nil
}

func splitList(v string) []string {
    var out []string
    for _, s := range strings.Split(v, ",") {
        if s = strings.TrimSpace(s); s != "" { out = append(out, s) }
    }
    return out
}
