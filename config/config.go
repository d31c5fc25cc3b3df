package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string            `mapstructure:"env"`
	LogLevel          string            `mapstructure:"log_level"`
	LogType           string            `mapstructure:"log_type"`
	ServiceName       string            `mapstructure:"service_name"`
	Version           string            `mapstructure:"version"`
	ScraperSettings   *ScraperConfig    `mapstructure:"scraper"`
	WorkerSettings    *WorkerConfig     `mapstructure:"worker"`
	RateLimitSettings *RateLimitConfig  `mapstructure:"rate_limit"`
	FetchSettings     *FetchConfig      `mapstructure:"fetch"`
	ProxySettings     *ProxyConfig      `mapstructure:"proxy"`
	DbSettings        *DatabaseConfig   `mapstructure:"database"`
	CacheSettings     *CacheConfig      `mapstructure:"cache"`
	SinkSettings      *SinkConfig       `mapstructure:"sink"`
	KafkaSettings     *KafkaConfig      `mapstructure:"kafka"`
	S3Settings        *S3Config         `mapstructure:"s3"`
	TelemetrySettings *TelemetryConfig  `mapstructure:"telemetry"`
	HttpSettings      *HttpClientConfig `mapstructure:"http_client"`
}

type ScraperConfig struct {
	BaseURL    string   `mapstructure:"base_url"`
	Categories []string `mapstructure:"categories"`
	Locations  []string `mapstructure:"locations"`
}

type WorkerConfig struct {
	WorkersNum   int           `mapstructure:"workers_num"`
	RetryCeiling int           `mapstructure:"retry_ceiling"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type RateLimitConfig struct {
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	JitterMinSeconds  float64 `mapstructure:"jitter_min_seconds"`
	JitterMaxSeconds  float64 `mapstructure:"jitter_max_seconds"`
}

type FetchConfig struct {
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type ProxyConfig struct {
	Enabled          bool               `mapstructure:"enabled"`
	RotationInterval int                `mapstructure:"rotation_interval"`
	FailureThreshold int                `mapstructure:"failure_threshold"`
	List             []string           `mapstructure:"list"`
	FilePath         string             `mapstructure:"file_path"`
	ProviderURL      string             `mapstructure:"provider_url"`
	ProviderAPIKey   string             `mapstructure:"provider_api_key"`
	HealthCheck      *HealthCheckConfig `mapstructure:"health_check"`
}

type HealthCheckConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TestURL    string        `mapstructure:"test_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxProxies int           `mapstructure:"max_proxies"`
}

type DatabaseConfig struct {
	Dir             string        `mapstructure:"dir"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type CacheConfig struct {
	Servers   []string      `mapstructure:"servers"`
	TtlForRef time.Duration `mapstructure:"ttl_for_ref"`
}

type SinkConfig struct {
	Type      string `mapstructure:"type"` // csv | jsonl | kafka | s3
	OutputDir string `mapstructure:"output_dir"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type S3Config struct {
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	RequestTimeout            time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.AutomaticEnv()
	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// An empty list in the config file would otherwise shadow the defaults
	// and produce a run with zero seed tasks.
	if len(cfg.ScraperSettings.Categories) == 0 {
		cfg.ScraperSettings.Categories = DefaultCategories
	}
	if len(cfg.ScraperSettings.Locations) == 0 {
		cfg.ScraperSettings.Locations = DefaultLocations
	}

	return &cfg
}

func setDefaults() {
	viper.SetDefault("scraper.base_url", "https://www.doctoralia.es")
	viper.SetDefault("scraper.categories", DefaultCategories)
	viper.SetDefault("scraper.locations", DefaultLocations)
	viper.SetDefault("worker.workers_num", 5)
	viper.SetDefault("worker.retry_ceiling", 3)
	viper.SetDefault("worker.poll_interval", time.Second)
	viper.SetDefault("rate_limit.requests_per_minute", 30)
	viper.SetDefault("rate_limit.jitter_min_seconds", 1.0)
	viper.SetDefault("rate_limit.jitter_max_seconds", 3.0)
	viper.SetDefault("fetch.retry_attempts", 3)
	viper.SetDefault("fetch.initial_backoff", 2*time.Second)
	viper.SetDefault("fetch.max_backoff", 30*time.Second)
	viper.SetDefault("proxy.rotation_interval", 10)
	viper.SetDefault("proxy.failure_threshold", 3)
	viper.SetDefault("database.dir", "data")
	viper.SetDefault("sink.type", "csv")
	viper.SetDefault("sink.output_dir", "data")
}

// DefaultCategories are the medical specialties crawled when the config does
// not narrow them down.
var DefaultCategories = []string{
	"medico-general", "dentista", "ginecologo", "dermatologo",
	"psicologo", "psiquiatra", "traumatologo", "oftalmologo",
	"pediatra", "cardiologo", "urologo", "otorrino",
	"endocrino", "neurologo", "cirujano-general", "fisioterapeuta",
	"nutricionista", "alergologo", "reumatologo", "nefrologo",
	"gastroenterologo", "neumologo", "hematologo", "oncologo",
	"angiologo-y-cirujano-vascular", "cirujano-plastico", "medico-estetico",
	"podologo", "logopeda", "internista", "radiologo",
	"anestesiologo", "geriatra", "medico-deportivo", "infectologo",
}

// DefaultLocations are the major Spanish cities crawled by default.
var DefaultLocations = []string{
	"madrid", "barcelona", "valencia", "sevilla", "zaragoza",
	"malaga", "murcia", "palma-de-mallorca", "las-palmas-de-gran-canaria",
	"bilbao", "alicante", "cordoba", "valladolid", "vigo",
	"gijon", "hospitalet-de-llobregat", "vitoria-gasteiz", "a-coruna",
	"granada", "elche", "oviedo", "badalona", "cartagena",
	"terrassa", "jerez-de-la-frontera", "sabadell", "mostoles",
	"santa-cruz-de-tenerife", "pamplona", "almeria", "alcala-de-henares",
	"fuenlabrada", "leganes", "san-sebastian", "getafe", "burgos",
	"albacete", "santander", "castellon-de-la-plana", "alcorcon",
	"logrono", "badajoz", "salamanca", "huelva", "marbella",
	"lleida", "tarragona", "leon", "cadiz", "jaen",
}
