package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadEnvFiles loads the given .env files that exist, returning how many were read.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads config.yaml from configPath, applies environment overrides
// (REPLAY_DATABASE_HOST, REPLAY_STORAGE_BACKEND, ...) and validates the result.
// A missing config file is not an error.
func Load(configPath string) (Config, error) {
	return load(viper.New(), configPath)
}

func load(v *viper.Viper, configPath string) (Config, error) {
	cfg := Default()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("REPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode", "database.max_conns",
		"redis.addr", "redis.password", "redis.db",
		"storage.backend", "storage.root", "storage.bucket", "storage.credentials_json", "storage.prefix",
		"import.channel", "import.fetch_attempts", "import.fetch_backoff", "import.lock_ttl",
		"server.addr", "server.allowed_origins", "server.read_timeout", "server.write_timeout", "server.idle_timeout",
		"logging.level", "logging.format",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}

	if v.IsSet("redis.addr") {
		cfg.Redis.Addr = v.GetString("redis.addr")
	}
	if v.IsSet("redis.password") {
		cfg.Redis.Password = v.GetString("redis.password")
	}
	if v.IsSet("redis.db") {
		cfg.Redis.DB = v.GetInt("redis.db")
	}

	if v.IsSet("storage.backend") {
		cfg.Storage.Backend = strings.ToLower(v.GetString("storage.backend"))
	}
	if v.IsSet("storage.root") {
		cfg.Storage.Root = v.GetString("storage.root")
	}
	if v.IsSet("storage.bucket") {
		cfg.Storage.Bucket = v.GetString("storage.bucket")
	}
	if v.IsSet("storage.credentials_json") {
		cfg.Storage.CredentialsJSON = v.GetString("storage.credentials_json")
	}
	if v.IsSet("storage.prefix") {
		cfg.Storage.Prefix = v.GetString("storage.prefix")
	}

	if v.IsSet("import.channel") {
		cfg.Import.Channel = v.GetString("import.channel")
	}
	if v.IsSet("import.fetch_attempts") {
		cfg.Import.FetchAttempts = v.GetInt("import.fetch_attempts")
	}
	if v.IsSet("import.fetch_backoff") {
		cfg.Import.FetchBackoff = v.GetDuration("import.fetch_backoff")
	}
	if v.IsSet("import.lock_ttl") {
		cfg.Import.LockTTL = v.GetDuration("import.lock_ttl")
	}
	if v.IsSet("import.attribute_map") {
		for header, attribute := range v.GetStringMapString("import.attribute_map") {
			cfg.Import.AttributeMap[strings.ToLower(strings.TrimSpace(header))] = attribute
		}
	}
	if v.IsSet("import.workflow") {
		workflow, err := parseWorkflow(v.GetStringMap("import.workflow"))
		if err != nil {
			return cfg, err
		}
		cfg.Import.Workflow = workflow
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.idle_timeout") {
		cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	}

	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.format") {
		cfg.Logging.Format = v.GetString("logging.format")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func parseWorkflow(raw map[string]any) (map[string][]int64, error) {
	workflow := make(map[string][]int64, len(raw))
	for from, value := range raw {
		list, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("import.workflow.%s must be a list of status ids", from)
		}
		allowed := make([]int64, 0, len(list))
		for _, item := range list {
			id, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(item)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("import.workflow.%s: %w", from, err)
			}
			allowed = append(allowed, id)
		}
		workflow[from] = allowed
	}
	return workflow, nil
}
