package config

import "time"

// Config represents the complete relay configuration.
type Config struct {
	Include []string      `yaml:"include,omitempty"`
	Service ServiceConfig `yaml:"service"`
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Client  ClientConfig  `yaml:"client"`
	State   StateConfig   `yaml:"state"`

	// Path is the absolute path of the root file Load read. Not serialized.
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"       env:"RELAY_SERVICE_NAME"`
	LogLevel  string `yaml:"log_level"  env:"RELAY_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"RELAY_LOG_FORMAT"`
}

// ServerConfig defines the raw TCP transport.
type ServerConfig struct {
	Listen           string        `yaml:"listen"            env:"RELAY_SERVER_LISTEN"`
	Workers          int           `yaml:"workers"           env:"RELAY_SERVER_WORKERS"`
	ReadTimeout      time.Duration `yaml:"read_timeout"      env:"RELAY_SERVER_READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout"     env:"RELAY_SERVER_WRITE_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"RELAY_SERVER_HANDSHAKE_TIMEOUT"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"  env:"RELAY_SERVER_SHUTDOWN_TIMEOUT"`
	MaxFrameSize     uint32        `yaml:"max_frame_size"    env:"RELAY_SERVER_MAX_FRAME_SIZE"`
}

// HTTPConfig defines the optional HTTP transport.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" env:"RELAY_HTTP_ENABLED"`
	Listen  string `yaml:"listen"  env:"RELAY_HTTP_LISTEN"`
}

// Auth modes.
const (
	AuthModeNone  = "none"
	AuthModeToken = "token"
)

// AuthConfig selects the handshake and lists the shared tokens.
type AuthConfig struct {
	Mode   string        `yaml:"mode" env:"RELAY_AUTH_MODE"`
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig names a shared secret. The name is the caller identity.
type TokenConfig struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// ClientConfig is what `relay call` uses to reach a server.
type ClientConfig struct {
	Host        string        `yaml:"host"         env:"RELAY_CLIENT_HOST"`
	Port        int           `yaml:"port"         env:"RELAY_CLIENT_PORT"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"RELAY_CLIENT_DIAL_TIMEOUT"`
	IOTimeout   time.Duration `yaml:"io_timeout"   env:"RELAY_CLIENT_IO_TIMEOUT"`
	Identity    string        `yaml:"identity"     env:"RELAY_CLIENT_IDENTITY"`
	Token       string        `yaml:"token"        env:"RELAY_CLIENT_TOKEN"`
}

// StateConfig defines where command history is kept. An empty path disables it.
type StateConfig struct {
	Path string `yaml:"path" env:"RELAY_STATE_PATH"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "relay",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Listen:           "127.0.0.1:7070",
			Workers:          4,
			ReadTimeout:      5 * time.Minute,
			WriteTimeout:     30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			MaxFrameSize:     16 << 20,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Listen:  "127.0.0.1:7080",
		},
		Auth: AuthConfig{
			Mode: AuthModeNone,
		},
		Client: ClientConfig{
			Host:        "127.0.0.1",
			Port:        7070,
			DialTimeout: 5 * time.Second,
			IOTimeout:   60 * time.Second,
		},
	}
}
