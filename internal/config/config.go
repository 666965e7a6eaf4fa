package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/eargollo/imgdup/internal/scan"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	ScanPaths          []string  `yaml:"scan_paths"           json:"scan_paths"`
	ExcludePaths       []string  `yaml:"exclude_paths"        json:"exclude_paths"`
	Extensions         []string  `yaml:"extensions"           json:"extensions"`
	Threshold          uint64    `yaml:"threshold"            json:"threshold"`
	Workers            int       `yaml:"workers"              json:"workers"`
	Thumbnail          Thumbnail `yaml:"thumbnail"            json:"thumbnail"`
	EXIF               bool      `yaml:"exif"                 json:"exif"`
	Schedule           string    `yaml:"schedule"             json:"schedule"`
	TrashDir           string    `yaml:"trash_dir"            json:"-"`
	TrashRetentionDays int       `yaml:"trash_retention_days" json:"trash_retention_days"`
	DBPath             string    `yaml:"db_path"              json:"-"`
	HTTPAddr           string    `yaml:"http_addr"            json:"-"`
	LogLevel           string    `yaml:"log_level"            json:"-"`
}

// Thumbnail bounds the thumbnails rendered during analysis. Zero width or
// height disables them.
type Thumbnail struct {
	Width  int `yaml:"width"  json:"width"`
	Height int `yaml:"height" json:"height"`
}

// defaultExtensions matches the formats the media package can decode.
var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp", ".tif", ".tiff"}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(nil)
	return &cfg
}

// applyDefaults fills zero/empty fields with sensible defaults. thumbSet lists
// the thumbnail keys present in the file, so an explicit zero is kept.
func (c *Config) applyDefaults(thumbSet map[string]bool) {
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), defaultExtensions...)
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Thumbnail.Width == 0 && !thumbSet["width"] {
		c.Thumbnail.Width = 100
	}
	if c.Thumbnail.Height == 0 && !thumbSet["height"] {
		c.Thumbnail.Height = 100
	}
	if c.TrashDir == "" {
		c.TrashDir = "/data/trash"
	}
	if c.TrashRetentionDays == 0 {
		c.TrashRetentionDays = 30
	}
	if c.DBPath == "" {
		c.DBPath = "/data/imgdup.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ScanConfig returns the scan parameters carried by c.
func (c *Config) ScanConfig() scan.Config {
	return scan.Config{
		Roots:       append([]string(nil), c.ScanPaths...),
		Excludes:    append([]string(nil), c.ExcludePaths...),
		Extensions:  append([]string(nil), c.Extensions...),
		Workers:     c.Workers,
		Threshold:   c.Threshold,
		ThumbWidth:  c.Thumbnail.Width,
		ThumbHeight: c.Thumbnail.Height,
		EXIF:        c.EXIF,
	}
}

// Validate rejects values no scan can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Thumbnail.Width < 0 || c.Thumbnail.Height < 0 {
		errs = append(errs, fmt.Errorf("thumbnail size must not be negative, got %dx%d",
			c.Thumbnail.Width, c.Thumbnail.Height))
	}
	if c.TrashRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("trash_retention_days must not be negative, got %d", c.TrashRetentionDays))
	}
	return errors.Join(errs...)
}

// rawThumbnail is decoded alongside Config to tell an explicit 0 from a
// missing key.
type rawThumbnail struct {
	Thumbnail map[string]any `yaml:"thumbnail"`
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the tool
// can run without a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var raw rawThumbnail
	_ = yaml.Unmarshal(data, &raw)
	set := make(map[string]bool, len(raw.Thumbnail))
	for k := range raw.Thumbnail {
		set[k] = true
	}

	cfg.applyDefaults(set)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
