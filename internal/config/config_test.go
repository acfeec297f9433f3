package config

import (
    "errors"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/spf13/pflag"
)

func TestParseLayering(t *testing.T) {
    dir := t.TempDir()
    file := filepath.Join(dir, "gateway.yaml")
    yamlDoc := "listen_addr: \":9000\"\nrate_limit_max: 10\nrate_limit_window: 30s\nconcurrency_limit: 2\ndelegate_url: http://file.example/turn\nallow_cidrs: [\"10.0.0.0/8\"]\n"
    if err := os.WriteFile(file, []byte(yamlDoc), 0o600); err != nil {
        t.Fatal(err)
    }
    t.Setenv("GATEWAY_CONFIG", file)
    t.Setenv("RATE_LIMIT_MAX", "20")
    t.Setenv("DELEGATE_URL", "https://env.example/turn")

    cfg, err := Parse([]string{"--concurrency-limit", "7", "--request-timeout=5s"})
    if err != nil {
        t.Fatalf("Parse: %v", err)
    }
    if cfg.ListenAddr != ":9000" {
        t.Errorf("ListenAddr = %q, want value from file", cfg.ListenAddr)
    }
    if cfg.RateLimitWindow != 30*time.Second {
        t.Errorf("RateLimitWindow = %v", cfg.RateLimitWindow)
    }
    if cfg.RateLimitMax != 20 {
        t.Errorf("RateLimitMax = %d, env should beat file", cfg.RateLimitMax)
    }
    if cfg.ConcurrencyLimit != 7 {
        t.Errorf("ConcurrencyLimit = %d, flag should beat file", cfg.ConcurrencyLimit)
    }
    if cfg.DelegateURL != "https://env.example/turn" {
        t.Errorf("DelegateURL = %q", cfg.DelegateURL)
    }
    if cfg.RequestTimeout != 5*time.Second {
        t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
    }
    if cfg.MaxPromptBytes != 64<<10 {
        t.Errorf("default MaxPromptBytes lost: %d", cfg.MaxPromptBytes)
    }
    prefixes, err := cfg.AllowPrefixes()
    if err != nil || len(prefixes) != 1 || prefixes[0].String() != "10.0.0.0/8" {
        t.Errorf("AllowPrefixes = %v, %v", prefixes, err)
    }
}

func TestParseRequiresDelegate(t *testing.T) {
    t.Setenv("DELEGATE_URL", "")
    t.Setenv("GATEWAY_CONFIG", "")
    _, err := Parse(nil)
    if err == nil || !strings.Contains(err.Error(), "DELEGATE_URL is required") {
        t.Fatalf("err = %v", err)
    }
}

func TestParseRejectsBadValues(t *testing.T) {
    t.Setenv("GATEWAY_CONFIG", "")
    t.Setenv("DELEGATE_URL", "http://d.example")
    tests := []struct {
        name string
        env  map[string]string
        args []string
        want string
    }{
        {"non numeric env", map[string]string{"RATE_LIMIT_MAX": "lots"}, nil, "RATE_LIMIT_MAX"},
        {"bad duration flag", nil, []string{"--delegate-timeout", "soon"}, "delegate-timeout"},
        {"zero ceiling", map[string]string{"CONCURRENCY_LIMIT": "0"}, nil, "CONCURRENCY_LIMIT must be positive"},
        {"bad cidr", map[string]string{"ALLOW_CIDRS": "10.0.0.0/8, nope"}, nil, "ALLOW_CIDRS"},
        {"ftp delegate", map[string]string{"DELEGATE_URL": "ftp://d.example"}, nil, "DELEGATE_URL"},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            for k, v := range tt.env {
                t.Setenv(k, v)
            }
            _, err := Parse(tt.args)
            if err == nil || !strings.Contains(err.Error(), tt.want) {
                t.Fatalf("err = %v, want mention of %q", err, tt.want)
            }
        })
    }
}

func TestParseHelp(t *testing.T) {
    t.Setenv("DELEGATE_URL", "http://d.example")
    if _, err := Parse([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
        t.Fatalf("err = %v, want pflag.ErrHelp", err)
    }
}

func TestAllowPrefixesBareAddress(t *testing.T) {
    c := Defaults()
    c.AllowCIDRs = []string{"192.168.1.7", "fd00::/8"}
    got, err := c.AllowPrefixes()
    if err != nil {
        t.Fatal(err)
    }
    if got[0].String() != "192.168.1.7/32" || got[1].String() != "fd00::/8" {
        t.Fatalf("prefixes = %v", got)
    }
}
