package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizeLLM()
	c.normalizeSMTP()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	for i := range c.Sources {
		if err := c.normalizeSource(&c.Sources[i]); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PromptDir) == "" {
		c.Paths.PromptDir = defaultPromptDir
	}
	if c.Paths.PromptDir, err = expandPath(c.Paths.PromptDir); err != nil {
		return fmt.Errorf("paths.prompt_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = defaultMaxWorkers
	}
	if c.Scheduler.MaxLogLines <= 0 {
		c.Scheduler.MaxLogLines = defaultMaxLogLines
	}
	if c.Scheduler.ChunkSize <= 0 {
		c.Scheduler.ChunkSize = defaultChunkSize
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RetryAttempts <= 0 {
		c.LLM.RetryAttempts = defaultLLMRetryAttempts
	}
	if c.LLM.RetryBackoffSeconds < 0 {
		c.LLM.RetryBackoffSeconds = 0
	}
	if c.LLM.RequestsPerMinute < 0 {
		c.LLM.RequestsPerMinute = 0
	}

	profiles := make(map[string]LLMProfile, len(c.LLM.Profiles))
	for alias, profile := range c.LLM.Profiles {
		profiles[strings.TrimSpace(alias)] = LLMProfile{APIKey: strings.TrimSpace(profile.APIKey)}
	}
	c.LLM.Profiles = profiles
	c.LLM.DefaultProfile = strings.TrimSpace(c.LLM.DefaultProfile)

	envKey, ok := os.LookupEnv(defaultEnvAPIKey)
	envKey = strings.TrimSpace(envKey)
	if !ok || envKey == "" {
		return
	}
	alias := c.LLM.DefaultProfile
	if alias == "" {
		alias = defaultEnvProfileAlias
		c.LLM.DefaultProfile = alias
	}
	if c.LLM.Profiles[alias].APIKey == "" {
		c.LLM.Profiles[alias] = LLMProfile{APIKey: envKey}
	}
}

func (c *Config) normalizeSMTP() {
	profiles := make(map[string]SMTPProfile, len(c.SMTP.Profiles))
	for name, profile := range c.SMTP.Profiles {
		profile.Server = strings.TrimSpace(profile.Server)
		profile.SenderEmail = strings.TrimSpace(profile.SenderEmail)
		if profile.Port <= 0 {
			profile.Port = defaultSMTPPort
		}
		profiles[strings.TrimSpace(name)] = profile
	}
	c.SMTP.Profiles = profiles
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeSource(src *Source) error {
	var err error
	src.ID = strings.TrimSpace(src.ID)
	src.DisplayName = strings.TrimSpace(src.DisplayName)
	src.Hostname = strings.TrimSpace(src.Hostname)
	if src.Hostname == "" {
		src.Hostname = src.Label()
	}
	src.Credential = strings.TrimSpace(src.Credential)
	src.SMTPProfile = strings.TrimSpace(src.SMTPProfile)
	if src.LookbackHours <= 0 {
		src.LookbackHours = defaultLookbackHours
	}
	if src.RunIntervalSeconds <= 0 {
		src.RunIntervalSeconds = defaultRunIntervalSeconds
	}

	if src.LogFile = strings.TrimSpace(src.LogFile); src.LogFile != "" {
		if src.LogFile, err = expandPath(src.LogFile); err != nil {
			return fmt.Errorf("log_file: %w", err)
		}
	}
	files := make([]string, 0, len(src.ContextFiles))
	for _, file := range src.ContextFiles {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		expanded, err := expandPath(file)
		if err != nil {
			return fmt.Errorf("context_files: %w", err)
		}
		files = append(files, expanded)
	}
	src.ContextFiles = files

	src.Timezone = strings.TrimSpace(src.Timezone)
	if src.Timezone == "" {
		src.Timezone = defaultTimezone
	}
	if src.Location, err = time.LoadLocation(src.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", src.Timezone, err)
	}

	if src.Stages, err = DecodeStages(src.PipelineStages); err != nil {
		return err
	}
	for i := range src.Stages {
		c.normalizeStage(&src.Stages[i], i)
	}
	return nil
}

func (c *Config) normalizeStage(stage *StageConfig, idx int) {
	stage.Name = strings.TrimSpace(stage.Name)
	stage.Model = strings.TrimSpace(stage.Model)
	stage.Credential = strings.TrimSpace(stage.Credential)
	stage.PromptFile = c.resolvePrompt(stage.PromptFile)
	if idx > 0 && stage.TriggerThreshold == 0 {
		stage.TriggerThreshold = 1
	}
	for i := range stage.Substages {
		sub := &stage.Substages[i]
		sub.Name = strings.TrimSpace(sub.Name)
		sub.Model = strings.TrimSpace(sub.Model)
		sub.Credential = strings.TrimSpace(sub.Credential)
		sub.PromptFile = c.resolvePrompt(sub.PromptFile)
	}
	if stage.SummaryConf != nil {
		stage.SummaryConf.Model = strings.TrimSpace(stage.SummaryConf.Model)
		stage.SummaryConf.Credential = strings.TrimSpace(stage.SummaryConf.Credential)
		stage.SummaryConf.PromptFile = c.resolvePrompt(stage.SummaryConf.PromptFile)
	}
	recipients := make([]string, 0, len(stage.Recipients))
	for _, r := range stage.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	stage.Recipients = recipients
}

// resolvePrompt anchors relative prompt files under paths.prompt_dir.
func (c *Config) resolvePrompt(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "~") {
		if expanded, err := expandPath(value); err == nil {
			return expanded
		}
		return value
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(c.Paths.PromptDir, value)
}
