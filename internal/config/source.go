package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CredentialProfilePrefix marks a credential that names an [llm.profiles] entry
// instead of carrying a literal API key.
const CredentialProfilePrefix = "profile:"

// Source is one log-producing host and its analysis pipeline.
type Source struct {
	ID                 string   `toml:"id"`
	DisplayName        string   `toml:"display_name"`
	Hostname           string   `toml:"hostname"`
	LogFile            string   `toml:"log_file"`
	LookbackHours      int      `toml:"lookback_hours"`
	Timezone           string   `toml:"timezone"`
	RunIntervalSeconds int      `toml:"run_interval_seconds"`
	Enabled            *bool    `toml:"enabled"`
	Credential         string   `toml:"credential"`
	SMTPProfile        string   `toml:"smtp_profile"`
	ContextFiles       []string `toml:"context_files"`
	AttachContextFiles bool     `toml:"attach_context_files"`
	PipelineStages     string   `toml:"pipeline_stages"`

	// Stages is decoded from PipelineStages during Load.
	Stages []StageConfig `toml:"-"`
	// Location is the loaded Timezone.
	Location *time.Location `toml:"-"`
}

// IsEnabled reports whether the source participates in scheduling. Sources
// default to enabled.
func (s *Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Label returns the display name, falling back to the id.
func (s *Source) Label() string {
	if name := strings.TrimSpace(s.DisplayName); name != "" {
		return name
	}
	return s.ID
}

// RunInterval returns the stage 0 cadence.
func (s *Source) RunInterval() time.Duration {
	return time.Duration(s.RunIntervalSeconds) * time.Second
}

// StageEnabled reports whether stage idx exists and is enabled.
func (s *Source) StageEnabled(idx int) bool {
	if idx < 0 || idx >= len(s.Stages) {
		return false
	}
	return s.Stages[idx].IsEnabled()
}

// StageConfig is one element of a source's pipeline.
type StageConfig struct {
	Name             string           `json:"name"`
	Enabled          *bool            `json:"enabled,omitempty"`
	Model            string           `json:"model"`
	PromptFile       string           `json:"prompt_file"`
	TriggerThreshold int              `json:"trigger_threshold,omitempty"`
	Substages        []SubstageConfig `json:"substages,omitempty"`
	SummaryConf      *SummaryConfig   `json:"summary_conf,omitempty"`
	Credential       string           `json:"credential,omitempty"`
	Recipients       []string         `json:"recipients,omitempty"`
}

// IsEnabled reports whether the stage runs. Stages default to enabled.
func (s StageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SubstageConfig is an additional parallel worker of stage 0.
type SubstageConfig struct {
	Name       string `json:"name"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Model      string `json:"model"`
	PromptFile string `json:"prompt_file"`
	Credential string `json:"credential,omitempty"`
}

// IsEnabled reports whether the substage runs. Substages default to enabled.
func (s SubstageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SummaryConfig configures the reduce call that merges worker outputs.
type SummaryConfig struct {
	Model      string `json:"model"`
	PromptFile string `json:"prompt_file"`
	Credential string `json:"credential,omitempty"`
}

// DecodeStages parses a pipeline_stages JSON array, rejecting unknown keys.
func DecodeStages(raw string) ([]StageConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.DisallowUnknownFields()
	var stages []StageConfig
	if err := decoder.Decode(&stages); err != nil {
		return nil, fmt.Errorf("decode pipeline_stages: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("decode pipeline_stages: unexpected trailing data")
	}
	return stages, nil
}
