package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds the complete tiffpress configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Source     SourceConfig     `toml:"source"`
	Processing ProcessingConfig `toml:"processing"`
	Aeon       AeonConfig       `toml:"aeon"`
	Text       TextConfig       `toml:"text"`
	AWS        AWSConfig        `toml:"aws"`
	Output     OutputConfig     `toml:"output"`
	Logging    LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Host string     `toml:"host"`
	Port int        `toml:"port"`
	Auth AuthConfig `toml:"auth"`
	TLS  TLSConfig  `toml:"tls"`
}

type AuthConfig struct {
	Enabled           bool     `toml:"enabled"`
	APIKeys           []string `toml:"api_keys"`
	BasicAuthUser     string   `toml:"basic_auth_user"`
	BasicAuthPassHash string   `toml:"basic_auth_password_hash"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// SourceConfig describes where document packages live on disk.
type SourceConfig struct {
	RootDir    string  `toml:"root_dir"`
	DefaultDPI float64 `toml:"default_dpi"`
	OutputDir  string  `toml:"output_dir"`
}

type ProcessingConfig struct {
	TempDirectory     string         `toml:"temp_directory"`
	InProcessingDir   string         `toml:"in_processing_dir"`
	MaxConcurrentJobs int            `toml:"max_concurrent_jobs"`
	DefaultProfile    string         `toml:"default_profile"`
	PDF               PDFConfig      `toml:"pdf"`
	OCR               OCRConfig      `toml:"ocr"`
	Optimize          OptimizeConfig `toml:"optimize"`
}

type PDFConfig struct {
	Compression string `toml:"compression"`
	JPEGQuality int    `toml:"jpeg_quality"`
	MaxDPI      int    `toml:"max_dpi"`
	Producer    string `toml:"producer"`
}

type OCRConfig struct {
	Enabled       bool   `toml:"enabled"`
	Engine        string `toml:"engine"`
	Language      string `toml:"language"`
	TesseractPath string `toml:"tesseract_path"`
}

type OptimizeConfig struct {
	Enabled  bool   `toml:"enabled"`
	Engine   string `toml:"engine"`
	QPDFPath string `toml:"qpdf_path"`
}

// AeonConfig configures the request-tracking API the batch job pulls from.
type AeonConfig struct {
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	APIKeyFile        string   `toml:"api_key_file"`
	SourceStatus      string   `toml:"source_status"`
	DestinationStatus string   `toml:"destination_status"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
	PollInterval      duration `toml:"poll_interval"`
}

// TextConfig selects where recognized page text is published.
type TextConfig struct {
	Sink      string `toml:"sink"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Directory string `toml:"directory"`
}

type AWSConfig struct {
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
}

type OutputConfig struct {
	Targets []string  `toml:"targets"`
	SMB     SMBConfig `toml:"smb"`
	S3      S3Config  `toml:"s3"`
}

type SMBConfig struct {
	Enabled      bool   `toml:"enabled"`
	Server       string `toml:"server"`
	Share        string `toml:"share"`
	Username     string `toml:"username"`
	PasswordFile string `toml:"password_file"`
	Directory    string `toml:"directory"`
}

type S3Config struct {
	Enabled bool   `toml:"enabled"`
	Bucket  string `toml:"bucket"`
	Prefix  string `toml:"prefix"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// duration wraps time.Duration for TOML unmarshaling.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(dur)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads the configuration from a TOML file and applies environment
// overrides. An empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.loadSecrets(); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Source: SourceConfig{
			RootDir:    "/data/transactions",
			DefaultDPI: 300,
		},
		Processing: ProcessingConfig{
			TempDirectory:     "/tmp/tiffpress",
			InProcessingDir:   "/data/in_processing",
			MaxConcurrentJobs: 1,
			DefaultProfile:    "standard",
			PDF: PDFConfig{
				Compression: "jpeg",
				JPEGQuality: 85,
				Producer:    "tiffpress",
			},
			OCR: OCRConfig{
				Enabled:       true,
				Engine:        "hocr",
				Language:      "eng",
				TesseractPath: "tesseract",
			},
			Optimize: OptimizeConfig{
				Enabled:  true,
				Engine:   "pdfcpu",
				QPDFPath: "qpdf",
			},
		},
		Aeon: AeonConfig{
			RequestsPerSecond: 5,
			Timeout:           duration(30 * time.Second),
			PollInterval:      duration(5 * time.Minute),
		},
		Text: TextConfig{
			Sink: "none",
		},
		Output: OutputConfig{
			Targets: []string{"filesystem"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv overlays the environment variables the container job is
// configured with.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("ROOT_DIR", &c.Source.RootDir)
	str("OUTPUT_DIR", &c.Source.OutputDir)
	str("IN_PROCESSING_FILE_DIR", &c.Processing.InProcessingDir)
	str("TEMP_DIR", &c.Processing.TempDirectory)
	str("SOURCE_TRANSACTION_STATUS", &c.Aeon.SourceStatus)
	str("DESTINATION_TRANSACTION_STATUS", &c.Aeon.DestinationStatus)
	str("AEON_BASEURL", &c.Aeon.BaseURL)
	str("AEON_ACCESS_KEY", &c.Aeon.APIKey)
	str("OCR_ENGINE", &c.Processing.OCR.Engine)
	str("OCR_LANGUAGE", &c.Processing.OCR.Language)
	str("AWS_REGION", &c.AWS.Region)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("OCR_BUCKET"); ok && v != "" {
		c.Text.Bucket = v
		c.Text.Sink = "s3"
	}
	if v, ok := lookup("MAX_CONCURRENT_JOBS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Processing.MaxConcurrentJobs = n
		}
	}
}

// loadSecrets reads secret values from files.
func (c *Config) loadSecrets() error {
	if c.Aeon.APIKeyFile != "" && c.Aeon.APIKey == "" {
		key, err := readSecretFile(c.Aeon.APIKeyFile)
		if err != nil {
			return fmt.Errorf("aeon api key: %w", err)
		}
		c.Aeon.APIKey = key
	}
	return nil
}

// ValidateBatch checks the settings the batch job cannot run without.
func (c *Config) ValidateBatch() error {
	var missing []string
	if c.Aeon.BaseURL == "" {
		missing = append(missing, "aeon.base_url")
	}
	if c.Aeon.APIKey == "" {
		missing = append(missing, "aeon.api_key")
	}
	if c.Aeon.SourceStatus == "" {
		missing = append(missing, "aeon.source_status")
	}
	if c.Aeon.DestinationStatus == "" {
		missing = append(missing, "aeon.destination_status")
	}
	if c.Source.RootDir == "" {
		missing = append(missing, "source.root_dir")
	}
	if c.Processing.InProcessingDir == "" {
		missing = append(missing, "processing.in_processing_dir")
	}
	if c.Text.Sink == "s3" && c.Text.Bucket == "" {
		missing = append(missing, "text.bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
