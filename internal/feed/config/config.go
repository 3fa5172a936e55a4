package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds process configuration parsed from environment variables.
// User-facing filter settings live in the key/value store, not here.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the host:port the sanitizing proxy binds to.
	Listen string `koanf:"listen" validate:"required,listen_addr"`

	// Upstream is the origin the proxy forwards page and feed traffic to.
	Upstream string `koanf:"upstream" validate:"required,http_url"`

	// StorePath is the bbolt file backing settings and the follow set.
	StorePath string `koanf:"store_path" validate:"required"`

	// SaveDelay is the trailing debounce before the follow set is persisted.
	SaveDelay time.Duration `koanf:"save_delay" validate:"gte=0"`

	// FilterDebounce coalesces full DOM sweeps triggered by mutation bursts.
	FilterDebounce time.Duration `koanf:"filter_debounce" validate:"gte=0"`

	// SidebarDepth bounds the ancestor walk used to find the sidebar
	// suggestion container.
	SidebarDepth int `koanf:"sidebar_depth" validate:"gte=1,lte=32"`

	// ReportCacheSize bounds the LRU of recently reported learned usernames.
	// Zero disables the cache and every learned name is reported.
	ReportCacheSize int `koanf:"report_cache_size" validate:"gte=0"`

	// BusBuffer is the queue depth of the cross-context message channel.
	BusBuffer int `koanf:"bus_buffer" validate:"gte=1"`
}

// DEFAULT_APP_CONFIG holds an 80ms sweep debounce, a 300ms follow-set save
// delay and a local-only listener.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:             "prod",
	LogLevel:        "info",
	Listen:          "127.0.0.1:8899",
	Upstream:        "https://www.instagram.com",
	StorePath:       "/var/lib/insta-sanitize/store.db",
	SaveDelay:       300 * time.Millisecond,
	FilterDebounce:  80 * time.Millisecond,
	SidebarDepth:    6,
	ReportCacheSize: 4096,
	BusBuffer:       256,
}

// validListenAddr accepts "host:port" or ":port" with a port in 1..65535.
func validListenAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envLoader loads environment variables with the prefix "SANITIZE_".
// Values containing spaces or commas are split into lists.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "SANITIZE_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "SANITIZE_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "listen_addr" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load builds the AppConfig from defaults overlaid with the environment and
// validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
