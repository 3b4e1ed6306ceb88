package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendCouchDB = "couchdb"
	BackendMongo   = "mongo"
)

type Config struct {
	Server    ServerConfig
	ICloud    ICloudConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Embedding EmbeddingConfig
	JWT       JWTConfig
	Verify    VerifyConfig
	Sync      SyncConfig
	Search    SearchConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string `validate:"required,numeric"`
	Host string
	Env  string
}

type ICloudConfig struct {
	Username string
	Password string
	// Environment separates persisted sessions of test and production runs.
	Environment string `validate:"required"`
	Database    string `validate:"oneof=private shared"`
	// RequestsPerSecond throttles calls to the note service; zero disables.
	RequestsPerSecond float64 `validate:"gte=0"`
}

type StoreConfig struct {
	Backend string `validate:"oneof=couchdb mongo"`
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// URL is the CouchDB endpoint with credentials.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s/", d.User, d.Password, d.Host, d.Port)
}

type MongoConfig struct {
	URI           string
	Database      string
	VectorIndex   string
	NumCandidates int `validate:"gte=1"`
}

type EmbeddingConfig struct {
	APIKey            string
	Model             string  `validate:"required"`
	Dimensions        int     `validate:"gte=1"`
	RequestsPerSecond float64 `validate:"gte=0"`
}

type JWTConfig struct {
	Secret     string        `validate:"required"`
	Expiration time.Duration `validate:"gt=0"`
}

type VerifyConfig struct {
	// KeyHash is the bcrypt hash the server checks submitted keys against.
	KeyHash string
	// Key is the plaintext a standalone sync presents to the server.
	Key       string
	ServerURL string `validate:"omitempty,url"`
}

type SyncConfig struct {
	// Interval between scheduled runs in server mode; zero disables the ticker.
	Interval                 time.Duration `validate:"gte=0"`
	Workers                  int           `validate:"gte=1"`
	SecondFactorPollInterval time.Duration `validate:"gt=0"`
	SecondFactorTimeout      time.Duration `validate:"gt=0"`
	ChunkMaxTokens           int           `validate:"gte=1"`
	Timezone                 string
}

type SearchConfig struct {
	Limit int `validate:"gte=1"`
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
	// OperatorID is the token owner that receives session and run events.
	OperatorID string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Enabled           bool
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	godotenv.Load()

	durations := map[string]string{
		"JWT_EXPIRATION":              "720h",
		"SYNC_INTERVAL":               "1h",
		"SECOND_FACTOR_POLL_INTERVAL": "5s",
		"SECOND_FACTOR_TIMEOUT":       "5m",
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, def := range durations {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parsed[key] = d
	}

	rps, err := getEnvAsFloat("EMBEDDING_RPS", 0)
	if err != nil {
		return nil, err
	}
	icloudRPS, err := getEnvAsFloat("ICLOUD_RPS", 0)
	if err != nil {
		return nil, err
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  env,
		},
		ICloud: ICloudConfig{
			Username:          getEnv("ICLOUD_USERNAME", ""),
			Password:          getEnv("ICLOUD_PASSWORD", ""),
			Environment:       getEnv("ICLOUD_ENVIRONMENT", env),
			Database:          getEnv("ICLOUD_DATABASE", "shared"),
			RequestsPerSecond: icloudRPS,
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendCouchDB)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "notes"),
		},
		Mongo: MongoConfig{
			URI:           getEnv("MONGODB_URI", ""),
			Database:      getEnv("MONGODB_DATABASE", "notes"),
			VectorIndex:   getEnv("MONGODB_VECTOR_INDEX", "vector_index"),
			NumCandidates: getEnvAsInt("SEARCH_NUM_CANDIDATES", 100),
		},
		Embedding: EmbeddingConfig{
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			Model:             getEnv("EMBEDDING_MODEL", "text-embedding-3-large"),
			Dimensions:        getEnvAsInt("EMBEDDING_DIMENSIONS", 3072),
			RequestsPerSecond: rps,
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: parsed["JWT_EXPIRATION"],
		},
		Verify: VerifyConfig{
			KeyHash:   getEnv("VERIFY_KEY_HASH", ""),
			Key:       getEnv("VERIFY_KEY", ""),
			ServerURL: getEnv("SERVER_URL", ""),
		},
		Sync: SyncConfig{
			Interval:                 parsed["SYNC_INTERVAL"],
			Workers:                  getEnvAsInt("SYNC_WORKERS", 1),
			SecondFactorPollInterval: parsed["SECOND_FACTOR_POLL_INTERVAL"],
			SecondFactorTimeout:      parsed["SECOND_FACTOR_TIMEOUT"],
			ChunkMaxTokens:           getEnvAsInt("CHUNK_MAX_TOKENS", 8192),
			Timezone:                 getEnv("TIMEZONE", "UTC"),
		},
		Search: SearchConfig{
			Limit: getEnvAsInt("SEARCH_LIMIT", 5),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
			OperatorID:      getEnv("OPERATOR_ID", "operator"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Location resolves TIMEZONE for creation dates in chunk headers and the
// search preamble.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	return loc, nil
}

// RequireSync checks the settings a sync run needs beyond the defaults.
func (c *Config) RequireSync() error {
	var missing []string
	if c.ICloud.Username == "" {
		missing = append(missing, "ICLOUD_USERNAME")
	}
	if c.ICloud.Password == "" {
		missing = append(missing, "ICLOUD_PASSWORD")
	}
	if c.Embedding.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Store.Backend == BackendMongo && c.Mongo.URI == "" {
		missing = append(missing, "MONGODB_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORS.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
