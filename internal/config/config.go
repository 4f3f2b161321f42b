// Package config loads service configuration from the environment.
// Every variable carries the ISN_ prefix and has a usable default for
// local development.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/johnperry/ISN/internal/domain"
)

// MinStudyAge is the floor for the study quiet period. Values below it
// risk splitting one study across multiple submissions.
const MinStudyAge = 5 * time.Minute

// Config is the assembled service configuration.
type Config struct {
	DBPath     string
	CacheDir   string
	StagingDir string
	QueueDir   string
	ListenAddr string
	LogLevel   slog.Level

	// Submission side.
	MinAge          time.Duration
	Retention       time.Duration
	DeleteOnSuccess bool
	AutoSendDest    string
	Workers         int
	Engine          string
	DBOSDatabaseURL string
	RequestTimeout  time.Duration

	// Retrieval side.
	PollInterval     time.Duration
	SiteKeys         []string
	ImagesPerRequest int
	SeenAcceptAlways bool

	// Patient hash key inputs.
	UserEmail     string
	UserBirthDate string
	AccessCode    string

	Destinations []domain.Destination
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		DBPath:     getString("ISN_DB_PATH", "isn.db"),
		CacheDir:   getString("ISN_CACHE_DIR", "cache"),
		StagingDir: getString("ISN_STAGING_DIR", "staging"),
		QueueDir:   getString("ISN_QUEUE_DIR", "queue"),
		ListenAddr: getString("ISN_LISTEN_ADDR", ":8080"),

		AutoSendDest:    getString("ISN_AUTOSEND_DEST", ""),
		Engine:          getString("ISN_ENGINE", "sync"),
		DBOSDatabaseURL: getString("ISN_DBOS_DATABASE_URL", ""),

		UserEmail:     getString("ISN_USER_EMAIL", ""),
		UserBirthDate: getString("ISN_USER_BIRTHDATE", ""),
		AccessCode:    getString("ISN_ACCESS_CODE", ""),
	}

	var err error
	if cfg.LogLevel, err = getLevel("ISN_LOG_LEVEL", slog.LevelInfo); err != nil {
		return cfg, err
	}
	if cfg.MinAge, err = getDuration("ISN_MIN_AGE", MinStudyAge); err != nil {
		return cfg, err
	}
	if cfg.MinAge < MinStudyAge {
		cfg.MinAge = MinStudyAge
	}
	if cfg.Retention, err = getDuration("ISN_RETENTION", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.DeleteOnSuccess, err = getBool("ISN_DELETE_ON_SUCCESS", true); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = getInt("ISN_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = getDuration("ISN_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = getDuration("ISN_POLL_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ImagesPerRequest, err = getInt("ISN_IMAGES_PER_REQUEST", 10); err != nil {
		return cfg, err
	}
	if cfg.SeenAcceptAlways, err = getBool("ISN_SEEN_ACCEPT_ALWAYS", false); err != nil {
		return cfg, err
	}

	if keys := getString("ISN_SITE_KEYS", ""); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.SiteKeys = append(cfg.SiteKeys, k)
			}
		}
	}

	if cfg.Destinations, err = loadDestinations(); err != nil {
		return cfg, err
	}

	switch cfg.Engine {
	case "sync", "goworkflows", "dbos":
	default:
		return cfg, fmt.Errorf("ISN_ENGINE: unknown engine %q", cfg.Engine)
	}
	if cfg.Engine == "dbos" && cfg.DBOSDatabaseURL == "" {
		return cfg, fmt.Errorf("ISN_DBOS_DATABASE_URL required for the dbos engine")
	}

	return cfg, nil
}

// loadDestinations reads the destination set from ISN_DESTINATIONS
// (inline JSON array) or ISN_DESTINATIONS_FILE.
func loadDestinations() ([]domain.Destination, error) {
	raw := os.Getenv("ISN_DESTINATIONS")
	if raw == "" {
		path := os.Getenv("ISN_DESTINATIONS_FILE")
		if path == "" {
			return nil, nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read destinations file: %w", err)
		}
		raw = string(b)
	}
	var dests []domain.Destination
	if err := json.Unmarshal([]byte(raw), &dests); err != nil {
		return nil, fmt.Errorf("decode destinations: %w", err)
	}
	return dests, nil
}

// NewLogger builds the service logger: JSON on stderr at the
// configured level.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getLevel(key string, def slog.Level) (slog.Level, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return level, nil
}
