package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Download DownloadConfig `mapstructure:"download"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type StorageConfig struct {
	DocumentsDir  string `mapstructure:"documents_dir"`
	SearchableDir string `mapstructure:"searchable_dir"`
	ExportDir     string `mapstructure:"export_dir"`
	CacheDir      string `mapstructure:"cache_dir"`
}

// ArchiveConfig configures the optional S3-compatible archive for export
// bundles and searchable documents.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type CrawlConfig struct {
	RegistryURL      string        `mapstructure:"registry_url"`
	RegistryCacheTTL time.Duration `mapstructure:"registry_cache_ttl"`
	FeedURL          string        `mapstructure:"feed_url"`
	FeedEnabled      bool          `mapstructure:"feed_enabled"`
	PortalURL        string        `mapstructure:"portal_url"`
	RegionalEnabled  bool          `mapstructure:"regional_enabled"`
	Delay            time.Duration `mapstructure:"delay"`
	LimitPerKeyword  int           `mapstructure:"limit_per_keyword"`
	UserAgent        string        `mapstructure:"user_agent"`
}

type DownloadConfig struct {
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MinDocumentSize int           `mapstructure:"min_document_size"`
}

type OCRConfig struct {
	Workers       int           `mapstructure:"workers"`
	Language      string        `mapstructure:"language"`
	DPI           int           `mapstructure:"dpi"`
	TextThreshold int           `mapstructure:"text_threshold"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	DocTimeout    time.Duration `mapstructure:"doc_timeout"`
	PdftoppmBin   string        `mapstructure:"pdftoppm_bin"`
	TesseractBin  string        `mapstructure:"tesseract_bin"`
}

type JobsConfig struct {
	Retention int `mapstructure:"retention"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/decisions.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.documents_dir", "./data/pdf")
	v.SetDefault("storage.searchable_dir", "./data/pdf_ocr")
	v.SetDefault("storage.export_dir", "./data/exports")
	v.SetDefault("storage.cache_dir", "./data/cache")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "localhost:9000")
	v.SetDefault("archive.use_ssl", false)
	v.SetDefault("archive.bucket", "judikat")
	v.SetDefault("crawl.registry_url", "https://www.nssoud.cz/fileadmin/user_upload/dokumenty/Otevrena_data/otevrena_data_NSS.xlsx")
	v.SetDefault("crawl.registry_cache_ttl", 7*24*time.Hour)
	v.SetDefault("crawl.feed_url", "https://sbirka.nsoud.cz/feed/")
	v.SetDefault("crawl.feed_enabled", false)
	v.SetDefault("crawl.portal_url", "https://rozhodnuti.justice.cz")
	v.SetDefault("crawl.regional_enabled", false)
	v.SetDefault("crawl.delay", 2*time.Second)
	v.SetDefault("crawl.limit_per_keyword", 50)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (judikat-crawler/1.0)")
	v.SetDefault("download.workers", 6)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.backoff_base", time.Second)
	v.SetDefault("download.backoff_cap", 30*time.Second)
	v.SetDefault("download.request_timeout", 30*time.Second)
	v.SetDefault("download.min_document_size", 1024)
	v.SetDefault("ocr.workers", 2)
	v.SetDefault("ocr.language", "ces")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.text_threshold", 400)
	v.SetDefault("ocr.page_timeout", 30*time.Second)
	v.SetDefault("ocr.doc_timeout", 2*time.Minute)
	v.SetDefault("ocr.pdftoppm_bin", "pdftoppm")
	v.SetDefault("ocr.tesseract_bin", "tesseract")
	v.SetDefault("jobs.retention", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("archive.endpoint", "ARCHIVE_ENDPOINT")
	v.BindEnv("archive.access_key", "ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "ARCHIVE_SECRET_KEY")
	v.BindEnv("archive.use_ssl", "ARCHIVE_USE_SSL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
