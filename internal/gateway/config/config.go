package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pcbmill/internal/logging"
)

type Config struct {
	Port     string
	Env      string
	Paths    PathConfig
	Catalog  CatalogConfig
	Session  SessionConfig
	Socket   SocketConfig
	Log      logging.Config
	Artifact ArtifactConfig
	// ToolConfigFile points at the TOML file with converter globals.
	ToolConfigFile string
}

type PathConfig struct {
	DataDir           string
	ProjectsDir       string
	DownloadsDir      string
	UploadsDir        string
	DefaultConfigFile string
}

// CatalogConfig selects the project catalog backend: a postgres:// URL, a
// sqlite:<path> DSN, or empty for a JSON file under DataDir.
type CatalogConfig struct {
	DSN string
}

type SessionConfig struct {
	TTL      time.Duration
	Capacity int
}

type SocketConfig struct {
	// RateLimit is the sustained number of inbound messages per second per
	// connection. Zero disables limiting.
	RateLimit float64
	Burst     int
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	dataDir := firstNonEmpty(strings.TrimSpace(os.Getenv("DATA_DIR")), "data")
	paths := PathConfig{
		DataDir:           dataDir,
		ProjectsDir:       firstNonEmpty(strings.TrimSpace(os.Getenv("PROJECTS_DIR")), filepath.Join(dataDir, "projects")),
		DownloadsDir:      firstNonEmpty(strings.TrimSpace(os.Getenv("DOWNLOADS_DIR")), filepath.Join(dataDir, "downloads")),
		UploadsDir:        firstNonEmpty(strings.TrimSpace(os.Getenv("UPLOADS_DIR")), filepath.Join(dataDir, "uploads")),
		DefaultConfigFile: firstNonEmpty(strings.TrimSpace(os.Getenv("DEFAULT_CONFIG_FILE")), filepath.Join(dataDir, "defaultConfig.json")),
	}

	local := strings.EqualFold(env, "local")
	logFormat := "json"
	if local {
		logFormat = "console"
	}

	return &Config{
		Port:    normalizePort(firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), "8080")),
		Env:     env,
		Paths:   paths,
		Catalog: CatalogConfig{DSN: strings.TrimSpace(os.Getenv("CATALOG_DSN"))},
		Session: SessionConfig{
			TTL:      envDuration("SESSION_TTL", 24*time.Hour),
			Capacity: envInt("SESSION_CAPACITY", 1024),
		},
		Socket: SocketConfig{
			RateLimit: envFloat("WS_RATE_LIMIT", 20),
			Burst:     envInt("WS_RATE_BURST", 40),
		},
		Log: logging.Config{
			Level:       firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
			Format:      firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_FORMAT")), logFormat),
			Development: local,
		},
		Artifact:       loadArtifactConfig(),
		ToolConfigFile: firstNonEmpty(strings.TrimSpace(os.Getenv("TOOL_CONFIG_FILE")), filepath.Join(dataDir, "tool.toml")),
	}, nil
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// WithPort overrides the listen port, e.g. from a command line flag.
func (c *Config) WithPort(port string) *Config {
	if strings.TrimSpace(port) != "" {
		c.Port = normalizePort(strings.TrimSpace(port))
	}
	return c
}

func loadArtifactConfig() ArtifactConfig {
	endpoint := firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")), strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")))
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "pcbmill-downloads"),
		UseSSL:    envBool("ARTIFACT_S3_USE_SSL", true),
		URLExpiry: envDuration("ARTIFACT_URL_EXPIRY", time.Hour),
	}
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
