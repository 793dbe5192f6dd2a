package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/robfig/cron/v3"

	"github.com/petervdpas/goopcall/internal/util"
)

const FileName = "goopcall.json"

// Relay and server store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendWS     = "ws"
)

// Capture modes.
const (
	CaptureDevice    = "device"
	CaptureSynthetic = "synthetic"
)

type Config struct {
	Identity Identity `json:"identity"`
	Relay    Relay    `json:"relay"`
	Media    Media    `json:"media"`
	Call     Call     `json:"call"`
	Viewer   Viewer   `json:"viewer"`
	Server   Server   `json:"server"`
	Log      Log      `json:"log"`
}

// Identity is who this client calls as. Calls stay disabled while ID is
// empty.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

type Relay struct {
	// One of memory, sqlite, redis or ws.
	Backend    string `json:"backend"`
	Collection string `json:"collection"`

	// sqlite: a database file shared by every client on this host.
	// Relative to the peer directory; the default sits next to the peer
	// directories so sibling peers share it.
	SQLitePath     string `json:"sqlite_path"`
	PollIntervalMs int    `json:"poll_interval_ms"`

	// redis
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`

	// ws: a relay server, e.g. ws://relay.example.org:8787/ws
	URL string `json:"url"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type Media struct {
	// device uses the camera and microphone; synthetic sends silent tracks
	// and works on headless hosts.
	Capture        string      `json:"capture"`
	ICEServers     []ICEServer `json:"ice_servers"`
	VideoMaxWidth  int         `json:"video_max_width"`
	VideoMaxHeight int         `json:"video_max_height"`

	ICEDisconnectedSec int `json:"ice_disconnected_sec"`
	ICEFailedSec       int `json:"ice_failed_sec"`
	ICEKeepaliveSec    int `json:"ice_keepalive_sec"`
}

type Call struct {
	// Terminal states return to idle after this long. 0 = wait for reset.
	ResetAfterMs   int `json:"reset_after_ms"`
	CleanupDelayMs int `json:"cleanup_delay_ms"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

// Server configures "goopcall relay".
type Server struct {
	Bind          string `json:"bind"`
	Port          int    `json:"port"`
	Backend       string `json:"backend"`
	SQLitePath    string `json:"sqlite_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisPrefix   string `json:"redis_prefix"`
	// Cron spec for the stale record sweep. Empty disables it.
	SweepSchedule string `json:"sweep_schedule"`
}

type Log struct {
	Level string `json:"level"`
	// Per-subsystem overrides, e.g. {"media": "debug"}.
	Subsystems map[string]string `json:"subsystems,omitempty"`
}

func Default() Config {
	return Config{
		Relay: Relay{
			Backend:        BackendSQLite,
			Collection:     "calls",
			SQLitePath:     "../relay.db",
			PollIntervalMs: 250,
			RedisAddr:      "127.0.0.1:6379",
			RedisPrefix:    "goopcall",
		},
		Media: Media{
			Capture: CaptureDevice,
			ICEServers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			VideoMaxWidth:      1280,
			VideoMaxHeight:     720,
			ICEDisconnectedSec: 30,
			ICEFailedSec:       120,
			ICEKeepaliveSec:    2,
		},
		Call: Call{
			ResetAfterMs:   3000,
			CleanupDelayMs: 5000,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8790",
		},
		Server: Server{
			Bind:          "127.0.0.1",
			Port:          8787,
			Backend:       BackendMemory,
			SQLitePath:    "data/relay.db",
			RedisAddr:     "127.0.0.1:6379",
			RedisPrefix:   "goopcall",
			SweepSchedule: "@every 1m",
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if id := strings.TrimSpace(c.Identity.ID); id != "" {
		if _, err := util.ValidateID(id); err != nil {
			return fmt.Errorf("identity.id: %w", err)
		}
	}

	// Relay
	switch c.Relay.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Relay.SQLitePath) == "" {
			return errors.New("relay.sqlite_path is required for the sqlite backend")
		}
		if c.Relay.PollIntervalMs < 10 {
			return errors.New("relay.poll_interval_ms must be >= 10")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Relay.RedisAddr) == "" {
			return errors.New("relay.redis_addr is required for the redis backend")
		}
		if c.Relay.RedisDB < 0 {
			return errors.New("relay.redis_db must be >= 0")
		}
	case BackendWS:
		if err := validateRelayURL(c.Relay.URL); err != nil {
			return fmt.Errorf("relay.url: %w", err)
		}
	default:
		return fmt.Errorf("relay.backend must be one of memory, sqlite, redis, ws (got %q)", c.Relay.Backend)
	}
	if strings.TrimSpace(c.Relay.Collection) == "" {
		return errors.New("relay.collection is required")
	}

	// Media
	if c.Media.Capture != CaptureDevice && c.Media.Capture != CaptureSynthetic {
		return errors.New("media.capture must be device or synthetic")
	}
	for i, s := range c.Media.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("media.ice_servers[%d] has no urls", i)
		}
	}
	if c.Media.VideoMaxWidth < 0 || c.Media.VideoMaxHeight < 0 {
		return errors.New("media.video_max_width and video_max_height must be >= 0")
	}
	if c.Media.ICEDisconnectedSec <= 0 || c.Media.ICEFailedSec <= 0 || c.Media.ICEKeepaliveSec <= 0 {
		return errors.New("media ice timeouts must be > 0")
	}
	if c.Media.ICEFailedSec < c.Media.ICEDisconnectedSec {
		return errors.New("media.ice_failed_sec must be >= media.ice_disconnected_sec")
	}

	// Call
	if c.Call.ResetAfterMs < 0 {
		return errors.New("call.reset_after_ms must be >= 0")
	}
	if c.Call.CleanupDelayMs <= 0 {
		return errors.New("call.cleanup_delay_ms must be > 0")
	}

	// Viewer
	if a := strings.TrimSpace(c.Viewer.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}
	if b := c.Server.Bind; b != "" && net.ParseIP(b) == nil {
		return errors.New("server.bind must be a valid IP address")
	}
	switch c.Server.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Server.SQLitePath) == "" {
			return errors.New("server.sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Server.RedisAddr) == "" {
			return errors.New("server.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("server.backend must be one of memory, sqlite, redis (got %q)", c.Server.Backend)
	}
	if s := strings.TrimSpace(c.Server.SweepSchedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("server.sweep_schedule: %w", err)
		}
	}

	// Log
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for sub, lvl := range c.Log.Subsystems {
		if _, err := logging.LevelFromString(lvl); err != nil {
			return fmt.Errorf("log.subsystems.%s: %w", sub, err)
		}
	}

	return nil
}

func validateRelayURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("required for the ws backend")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	if u.Hostname() == "0.0.0.0" {
		return errors.New("host must not be 0.0.0.0")
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// ApplyLogLevels sets the global level and then the per-subsystem ones.
func (l Log) ApplyLogLevels() error {
	lvl, err := logging.LevelFromString(l.Level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)
	for sub, s := range l.Subsystems {
		if err := logging.SetLogLevel(sub, s); err != nil {
			return fmt.Errorf("log subsystem %s: %w", sub, err)
		}
	}
	return nil
}
