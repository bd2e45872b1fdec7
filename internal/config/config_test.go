package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickml.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domain: list.example.com
data_dir: ${QUICKML_TEST_ROOT}/lists
smtp_host: relay.example.com
max_mail_length: 1MiB
ml_life_time: 48h
relay_timeout: 45s
creator_addresses:
  - example.com
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("QUICKML_TEST_ROOT", "/srv")
	t.Setenv("QUICKML_MAX_MEMBERS", "3")
	t.Setenv("QUICKML_PORT", "10025")
	t.Setenv("QUICKML_TIMEOUT", "30")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "list.example.com", cfg.Domain)
	require.Equal(t, "/srv/lists", cfg.DataDir)
	require.Equal(t, "postmaster@list.example.com", cfg.Postmaster)
	require.Equal(t, Size(1<<20), cfg.MaxMailLength)
	require.Equal(t, 48*time.Hour, cfg.MLLifeTime)
	require.Equal(t, 29*24*time.Hour, cfg.MLAlertTime)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 45*time.Second, cfg.RelayTimeout)
	require.Equal(t, 3, cfg.MaxMembers)
	require.Equal(t, []string{"example.com"}, cfg.CreatorAddresses)
	require.Equal(t, []string{"list.example.com"}, cfg.MemberAddresses)
	require.Equal(t, "0.0.0.0:10025", cfg.ListenAddr())
	require.Equal(t, "relay.example.com:25", cfg.RelayAddr())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickml.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_mail_length: lots\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg := Default()
		cfg.Domain = "list.example.com"
		cfg.DataDir = "/srv/lists"
		cfg.SMTPHost = "relay.example.com"
		return cfg
	}
	tests := []struct {
		Test   string
		Modify func(*Config)
		Err    string
	}{
		{Test: "valid", Modify: func(*Config) {}},
		{Test: "no domain", Modify: func(c *Config) { c.Domain = "" }, Err: "domain is required"},
		{Test: "no relay", Modify: func(c *Config) { c.SMTPHost = "" }, Err: "smtp_host is required"},
		{Test: "no relay needed", Modify: func(c *Config) { c.SMTPHost = ""; c.Transport = "log" }},
		{Test: "no data dir", Modify: func(c *Config) { c.DataDir = "" }, Err: "data_dir is required"},
		{Test: "sqlite needs no data dir", Modify: func(c *Config) { c.DataDir = ""; c.StoreDriver = "sqlite" }},
		{Test: "no threads", Modify: func(c *Config) { c.MaxThreads = 0 }, Err: "max_threads must be positive"},
		{Test: "no timeout", Modify: func(c *Config) { c.Timeout = 0 }, Err: "timeout must be positive"},
		{Test: "no relay timeout", Modify: func(c *Config) { c.RelayTimeout = 0 }, Err: "relay_timeout must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.Test, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.Modify(&cfg)
			err := cfg.Validate()
			if tc.Err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.Err)
		})
	}
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		Test  string
		Value string
		Want  Size
		Err   bool
	}{
		{Test: "bytes", Value: "102400", Want: 102400},
		{Test: "si", Value: "100KB", Want: 100000},
		{Test: "iec", Value: "100KiB", Want: 102400},
		{Test: "spaces", Value: " 2 MB ", Want: 2000000},
		{Test: "garbage", Value: "lots", Err: true},
	}
	for _, tc := range tests {
		t.Run(tc.Test, func(t *testing.T) {
			t.Parallel()
			got, err := parseSize(tc.Value)
			if tc.Err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.Want, got)
		})
	}
	require.Equal(t, "102,400", Size(102400).String())
}
