package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/mocap.report/internal/annotate"
	"github.com/banshee-data/mocap.report/internal/downsample"
	"github.com/banshee-data/mocap.report/internal/mocap"
)

// maxFileSize bounds config files read by LoadConfig.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// PipelineConfig holds optional overrides shared by the batch tools.
// Omitted fields fall back to the defaults returned by the Get* methods.
type PipelineConfig struct {
	// Downsampling
	GapSeconds *float64 `json:"gap_seconds,omitempty"`
	Topic      *string  `json:"topic,omitempty"`

	// Frame export
	ObjectsPath *string `json:"objects_path,omitempty"` // object catalog JSON; embedded default when unset
	OnInvalid   *string `json:"on_invalid,omitempty"`   // "fail" or "skip"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// EmptyConfig returns a PipelineConfig with all fields unset.
func EmptyConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.GapSeconds != nil && *c.GapSeconds < 0 {
		return fmt.Errorf("gap_seconds must be non-negative, got %f", *c.GapSeconds)
	}
	if c.Topic != nil && *c.Topic == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if c.OnInvalid != nil {
		if _, err := annotate.ParsePolicy(*c.OnInvalid); err != nil {
			return fmt.Errorf("on_invalid: %w", err)
		}
	}
	return nil
}

// GetGap returns the downsampling gap, rounded to whole nanoseconds.
func (c *PipelineConfig) GetGap() time.Duration {
	if c.GapSeconds == nil {
		return downsample.DefaultGap
	}
	return SecondsToDuration(*c.GapSeconds)
}

// GetTopic returns the tracking topic or the default.
func (c *PipelineConfig) GetTopic() string {
	if c.Topic == nil || *c.Topic == "" {
		return mocap.FrameTopic
	}
	return *c.Topic
}

// GetObjectsPath returns the catalog path, or "" for the embedded catalog.
func (c *PipelineConfig) GetObjectsPath() string {
	if c.ObjectsPath == nil {
		return ""
	}
	return *c.ObjectsPath
}

// GetOnInvalid returns the invalid-body policy. Validate rejects unknown
// names, so an unvalidated bad value falls back to fail.
func (c *PipelineConfig) GetOnInvalid() annotate.Policy {
	if c.OnInvalid == nil {
		return annotate.PolicyFail
	}
	p, err := annotate.ParsePolicy(*c.OnInvalid)
	if err != nil {
		return annotate.PolicyFail
	}
	return p
}

// SecondsToDuration converts fractional seconds to a Duration rounded to the
// nearest nanosecond, so 0.016 becomes exactly 16ms.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(s*float64(time.Second) + 0.5)
}
