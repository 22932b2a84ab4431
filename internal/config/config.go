package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config gathers every path and tunable in one place. Components receive
// what they need at construction; nothing reads files or env vars after
// startup.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DB DBConfig `yaml:"db"`

	// Artifact paths. Relative paths are resolved against the working
	// directory at load time.
	ImageDir    string `yaml:"image_dir"`
	ModelPath   string `yaml:"model_path"`
	NamesPath   string `yaml:"names_path"`
	LedgerPath  string `yaml:"ledger_path"`
	CascadePath string `yaml:"cascade_path"`

	CameraDevice        int     `yaml:"camera_device"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// External recognizer subprocess.
	ExternalScript      string `yaml:"external_script"`
	ExternalTimeoutSecs int    `yaml:"external_timeout_seconds"`

	Events EventsConfig `yaml:"events"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// EventsConfig controls the optional attendance event publisher.
// Publishing is disabled unless a NATS URL is set.
type EventsConfig struct {
	NatsURL     string `yaml:"nats_url"`
	NatsSubject string `yaml:"nats_subject"`
	RetryMax    int    `yaml:"publish_retry_max"`
}

// ExternalTimeout is the subprocess deadline for the external recognizer.
func (c Config) ExternalTimeout() time.Duration {
	return time.Duration(c.ExternalTimeoutSecs) * time.Second
}

func (d DBConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Load reads the YAML config file, then applies env var overrides.
// A missing file is not an error; defaults and env cover the dev case.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)

	var err error
	if cfg.LedgerPath, err = filepath.Abs(cfg.LedgerPath); err != nil {
		return cfg, fmt.Errorf("resolve ledger path: %w", err)
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = "trained_model.yml"
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		ImageDir:            "student_images",
		ModelPath:           "trained_model.yml",
		NamesPath:           "label_names.txt",
		LedgerPath:          "attendance.xlsx",
		CascadePath:         "resources/haarcascade_frontalface_default.xml",
		CameraDevice:        0,
		ConfidenceThreshold: 80.0,
		ExternalScript:      "python/face_recognition_service.py",
		ExternalTimeoutSecs: 60,
		DB: DBConfig{
			Host:    "localhost",
			Port:    "5432",
			SSLMode: "disable",
		},
		Events: EventsConfig{
			NatsSubject: "attend.marked",
			RetryMax:    3,
		},
	}
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.ListenAddr, "LISTEN_ADDR")
	setStr(&cfg.DB.Host, "DB_HOST")
	setStr(&cfg.DB.Port, "DB_PORT")
	setStr(&cfg.DB.User, "DB_USER")
	setStr(&cfg.DB.Password, "DB_PASSWORD")
	setStr(&cfg.DB.Name, "DB_NAME")
	setStr(&cfg.DB.SSLMode, "DB_SSLMODE")
	setStr(&cfg.ImageDir, "IMAGE_DIR")
	setStr(&cfg.ModelPath, "MODEL_PATH")
	setStr(&cfg.LedgerPath, "LEDGER_PATH")
	setStr(&cfg.CascadePath, "CASCADE_PATH")
	setStr(&cfg.ExternalScript, "EXTERNAL_SCRIPT")
	setStr(&cfg.Events.NatsURL, "NATS_URL")

	if v := os.Getenv("CAMERA_DEVICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CameraDevice = n
		}
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("EXTERNAL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExternalTimeoutSecs = n
		}
	}
}
