package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid configuration")

const maxSulHertz = 1000

type Config struct {
	Server struct {
		Port            string
		LobbySize       int
		SulHertz        int
		SulDuration     int // milliseconds
		BusTopic        string
		QueueGroup      string
		AutoMatchmaking bool
		InstanceID      string
	}
	UDP struct {
		Enabled     bool
		Port        string
		PeerTimeout int // milliseconds
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	JWT struct {
		Secret string
	}
	Log struct {
		Level string
	}
	Telemetry struct {
		Endpoint string // OTLP/HTTP traces URL, empty disables tracing
	}
	Registry struct {
		Enabled bool
		Name    string
		Zone    string
		Host    string
		TTL     int // seconds
	}
}

var C Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.lobbySize", 3)
	v.SetDefault("server.sulHertz", 24)
	v.SetDefault("server.sulDuration", 10*60*1000)
	v.SetDefault("server.busTopic", "default-balance-engine")
	v.SetDefault("server.queueGroup", "queue")
	v.SetDefault("server.autoMatchmaking", false)
	v.SetDefault("server.instanceId", "")
	v.SetDefault("udp.enabled", true)
	v.SetDefault("udp.port", ":8081")
	v.SetDefault("udp.peerTimeout", 30*1000)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.host", "")
	v.SetDefault("registry.name", "room-group-server")
	v.SetDefault("registry.zone", "default")
	v.SetDefault("registry.ttl", 30)
}

// Load reads path (optional when empty) and RGS_* environment overrides into C.
func Load(path string) error {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	C = c
	return nil
}

func (c *Config) Validate() error {
	if c.Server.LobbySize < 1 {
		return fmt.Errorf("%w: server.lobbySize must be >= 1, got %d", ErrInvalid, c.Server.LobbySize)
	}
	if c.Server.SulHertz < 1 || c.Server.SulHertz > maxSulHertz {
		return fmt.Errorf("%w: server.sulHertz must be in [1, %d], got %d", ErrInvalid, maxSulHertz, c.Server.SulHertz)
	}
	if c.Server.SulDuration <= 0 {
		return fmt.Errorf("%w: server.sulDuration must be positive", ErrInvalid)
	}
	if c.Server.QueueGroup == "" {
		return fmt.Errorf("%w: server.queueGroup is empty", ErrInvalid)
	}
	return nil
}
