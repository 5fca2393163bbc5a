package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"` // dev | prod
		File string `yaml:"file"`
	} `yaml:"log"`
	Local struct {
		Driver     string `yaml:"driver"` // memory | sqlite | redis
		SQLitePath string `yaml:"sqlitePath"`
		Namespace  string `yaml:"namespace"`
	} `yaml:"local"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	GCS struct {
		Bucket          string `yaml:"bucket"`
		EmulatorHost    string `yaml:"emulatorHost"`
		CredentialsFile string `yaml:"credentialsFile"`
	} `yaml:"gcs"`
	Remote struct {
		Driver        string `yaml:"driver"` // none | memory | postgres | gcs
		FolderID      string `yaml:"folderId"`
		ProgressFiles bool   `yaml:"progressFiles"`
		Debounce      string `yaml:"debounce"`
		Retries       int    `yaml:"retries"`
	} `yaml:"remote"`
	Crypto struct {
		Secret     string `yaml:"secret"`
		Salt       string `yaml:"salt"`
		Iterations int    `yaml:"iterations"`
	} `yaml:"crypto"`
	Auth struct {
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"tokenTTL"`
	} `yaml:"auth"`
}

// Load reads YAML config from path. A missing file yields the zero config.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
