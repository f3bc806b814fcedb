package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cfd_engine/internal/domain"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Streams struct {
		Ingest          string `yaml:"ingest"`
		Results         string `yaml:"results"`
		Group           string `yaml:"group"`
		Consumer        string `yaml:"consumer"`
		PersistGroup    string `yaml:"persist_group"`
		StartID         string `yaml:"start_id"` // where a new group begins: "$" or "0"
		ResultsMaxLen   int64  `yaml:"results_max_len"`
		BatchSize       int64  `yaml:"batch_size"`
		BlockMS         int    `yaml:"block_ms"`
		MaxRedeliveries int    `yaml:"max_redeliveries"`
		MaxReadFailures int    `yaml:"max_read_failures"`
		RetryDelayMS    int    `yaml:"retry_delay_ms"`
	} `yaml:"streams"`

	Engine struct {
		DefaultBalance   int64           `yaml:"default_balance"`
		MoneyScale       int32           `yaml:"money_scale"`
		QuantityScale    int32           `yaml:"quantity_scale"`
		MaxLeverage      int64           `yaml:"max_leverage"`
		MaintenanceRatio decimal.Decimal `yaml:"maintenance_ratio"`
		AppendRetries    uint64          `yaml:"append_retries"`
	} `yaml:"engine"`

	Snapshot struct {
		Path        string `yaml:"path"`
		IntervalSec int    `yaml:"interval_sec"`
		MaxSizeMB   int    `yaml:"max_size_mb"`
		MaxBackups  int    `yaml:"max_backups"`
	} `yaml:"snapshot"`

	Storage struct {
		Driver string `yaml:"driver"` // sqlite, postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Feed struct {
		WSURL             string           `yaml:"ws_url"`
		Assets            []string         `yaml:"assets"`
		Decimals          map[string]int32 `yaml:"decimals"`
		PublishIntervalMS int              `yaml:"publish_interval_ms"`
	} `yaml:"feed"`

	Debug struct {
		Addr string `yaml:"addr"`
	} `yaml:"debug"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: path, Err: domain.ErrConfigNotFound}
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// .env는 선택 사항이며, 이미 설정된 환경 변수를 덮어쓰지 않습니다.
	_ = godotenv.Load()
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "cfd_engine"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Streams.Ingest == "" {
		c.Streams.Ingest = "engine:ingest"
	}
	if c.Streams.Results == "" {
		c.Streams.Results = "engine:results"
	}
	if c.Streams.Group == "" {
		c.Streams.Group = "engine"
	}
	if c.Streams.Consumer == "" {
		c.Streams.Consumer = defaultConsumerName()
	}
	if c.Streams.PersistGroup == "" {
		c.Streams.PersistGroup = "db-processor"
	}
	if c.Streams.StartID == "" {
		c.Streams.StartID = "$"
	}
	if c.Streams.ResultsMaxLen == 0 {
		c.Streams.ResultsMaxLen = 100000
	}
	if c.Streams.BatchSize == 0 {
		c.Streams.BatchSize = 100
	}
	if c.Streams.BlockMS == 0 {
		c.Streams.BlockMS = 5000
	}
	if c.Streams.MaxRedeliveries == 0 {
		c.Streams.MaxRedeliveries = 10
	}
	if c.Streams.MaxReadFailures == 0 {
		c.Streams.MaxReadFailures = 5
	}
	if c.Streams.RetryDelayMS == 0 {
		c.Streams.RetryDelayMS = 500
	}
	if c.Engine.DefaultBalance == 0 {
		c.Engine.DefaultBalance = 500000
	}
	if c.Engine.MoneyScale == 0 {
		c.Engine.MoneyScale = 2
	}
	if c.Engine.QuantityScale == 0 {
		c.Engine.QuantityScale = 8
	}
	if c.Engine.MaxLeverage == 0 {
		c.Engine.MaxLeverage = 100
	}
	if c.Engine.MaintenanceRatio.IsZero() {
		c.Engine.MaintenanceRatio = decimal.NewFromFloat(0.10)
	}
	if c.Engine.AppendRetries == 0 {
		c.Engine.AppendRetries = 5
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "snapshots/engine.ndjson"
	}
	if c.Snapshot.IntervalSec == 0 {
		c.Snapshot.IntervalSec = 10
	}
	if c.Snapshot.MaxSizeMB == 0 {
		c.Snapshot.MaxSizeMB = 50
	}
	if c.Snapshot.MaxBackups == 0 {
		c.Snapshot.MaxBackups = 5
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "data/cfd.db"
	}
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = "wss://ws.backpack.exchange"
	}
	if c.Feed.PublishIntervalMS == 0 {
		c.Feed.PublishIntervalMS = 100
	}
	if c.Debug.Addr == "" {
		c.Debug.Addr = "localhost:6060"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Redis.URL, "redis://") && !hasPrefix(c.Redis.URL, "rediss://") {
		return &domain.ConfigError{Field: "redis.url", Err: fmt.Errorf("unsupported scheme: %s", c.Redis.URL)}
	}
	if c.Streams.Ingest == c.Streams.Results {
		return &domain.ConfigError{Field: "streams.results", Err: errors.New("must differ from streams.ingest")}
	}
	if c.Streams.BatchSize < 1 || c.Streams.BlockMS < 1 {
		return &domain.ConfigError{Field: "streams", Err: errors.New("batch size and block must be positive")}
	}
	if c.Engine.DefaultBalance < 0 {
		return &domain.ConfigError{Field: "engine.default_balance", Err: errors.New("must not be negative")}
	}
	if c.Engine.MoneyScale < 0 || c.Engine.QuantityScale < 0 {
		return &domain.ConfigError{Field: "engine", Err: errors.New("scales must not be negative")}
	}
	if c.Engine.MaxLeverage < 1 {
		return &domain.ConfigError{Field: "engine.max_leverage", Err: errors.New("must be at least 1")}
	}
	if !c.Engine.MaintenanceRatio.IsPositive() || c.Engine.MaintenanceRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "engine.maintenance_ratio", Err: fmt.Errorf("must be in (0, 1), got %s", c.Engine.MaintenanceRatio)}
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver: %s", c.Storage.Driver)}
	}
	if !hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid websocket URL: %s", c.Feed.WSURL)}
	}
	for _, asset := range c.Feed.Assets {
		if _, ok := c.Feed.Decimals[asset]; !ok {
			return &domain.ConfigError{Field: "feed.decimals", Err: fmt.Errorf("%w: no decimals for %s", domain.ErrInvalidSymbol, asset)}
		}
	}

	return nil
}

// defaultConsumerName은 호스트 이름을 사용하고, 실패하면 임의의 접미사를 붙입니다.
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "engine-" + uuid.NewString()[:8]
	}
	return "engine-" + host
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if consumer := os.Getenv("ENGINE_CONSUMER"); consumer != "" {
		cfg.Streams.Consumer = consumer
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if addr := os.Getenv("DEBUG_ADDR"); addr != "" {
		cfg.Debug.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if bal := os.Getenv("ENGINE_DEFAULT_BALANCE"); bal != "" {
		if v, err := strconv.ParseInt(bal, 10, 64); err == nil {
			cfg.Engine.DefaultBalance = v
		}
	}
}
