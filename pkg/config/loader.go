package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Common errors for settings loading.
var (
	ErrFileNotFound     = errors.New("settings file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("settings file is empty")
)

// File is the serialized form of the capture settings. Absent fields keep
// their defaults.
type File struct {
	Enabled        *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	IgnorePrefixes []string `json:"ignorePrefixes,omitempty" yaml:"ignorePrefixes,omitempty"`
	Filters        *Filters `json:"filters,omitempty" yaml:"filters,omitempty"`
	CaptureDir     string   `json:"captureDir,omitempty" yaml:"captureDir,omitempty"`
	MaxBodyBytes   int64    `json:"maxBodyBytes,omitempty" yaml:"maxBodyBytes,omitempty"`
	RetentionDays  int      `json:"retentionDays,omitempty" yaml:"retentionDays,omitempty"`
}

// LoadFromFile reads settings from a JSON or YAML file, format detected by
// extension (.yaml/.yml for YAML, JSON otherwise). Fields not present in
// the file keep their default values.
func LoadFromFile(path string) (*Settings, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	var file File
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
	} else {
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}

	return file.Apply(Default()), nil
}

// Apply overlays the file values on top of base and returns base.
func (f *File) Apply(base *Settings) *Settings {
	if f.Enabled != nil {
		base.SetEnabled(*f.Enabled)
	}
	if f.IgnorePrefixes != nil {
		base.SetIgnorePrefixes(f.IgnorePrefixes)
	}
	if f.Filters != nil {
		base.SetFilters(*f.Filters)
	}
	if f.CaptureDir != "" {
		base.SetCaptureDir(f.CaptureDir)
	}
	if f.MaxBodyBytes > 0 {
		base.SetMaxBodyBytes(f.MaxBodyBytes)
	}
	if f.RetentionDays > 0 {
		base.SetRetention(time.Duration(f.RetentionDays) * 24 * time.Hour)
	}
	return base
}
