package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig 描述聊天客户端的配置，来自 TOML 文件并可被 STUDYDESK_* 环境变量覆盖。
type ClientConfig struct {
	BaseURL        string   `toml:"base_url"`
	PushChannel    string   `toml:"push_channel"`
	RequestTimeout Duration `toml:"request_timeout"`
	DefaultTitle   string   `toml:"default_title"`
	Model          string   `toml:"model"`
}

// Duration decodes TOML strings such as "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultClientConfig returns the settings used when no file is present.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8080/api/v1",
		PushChannel:    "sse",
		RequestTimeout: Duration{15 * time.Second},
	}
}

// LoadClient reads path on top of the defaults. A missing file is not an
// error; an empty path skips the file entirely.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return ClientConfig{}, fmt.Errorf("decode client config %s: %w", path, err)
			}
		}
	}

	cfg.BaseURL = getEnvOrDefault("STUDYDESK_BASE_URL", cfg.BaseURL)
	cfg.PushChannel = getEnvOrDefault("STUDYDESK_PUSH_CHANNEL", cfg.PushChannel)
	cfg.DefaultTitle = getEnvOrDefault("STUDYDESK_DEFAULT_TITLE", cfg.DefaultTitle)
	cfg.Model = getEnvOrDefault("STUDYDESK_MODEL", cfg.Model)
	if raw := strings.TrimSpace(os.Getenv("STUDYDESK_REQUEST_TIMEOUT")); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid STUDYDESK_REQUEST_TIMEOUT value %q: %w", raw, err)
		}
		cfg.RequestTimeout = Duration{timeout}
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return ClientConfig{}, errors.New("client base_url is required")
	}
	if cfg.RequestTimeout.Duration < 0 {
		return ClientConfig{}, fmt.Errorf("invalid request_timeout: %s", cfg.RequestTimeout)
	}
	return cfg, nil
}
