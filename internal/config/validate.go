package config

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"logsentinel/internal/textutil"
)

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateSMTP(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateScheduler() error {
	return ensurePositiveMap(map[string]int{
		"scheduler.check_interval_seconds": c.Scheduler.CheckIntervalSeconds,
		"scheduler.max_workers":            c.Scheduler.MaxWorkers,
		"scheduler.max_log_lines":          c.Scheduler.MaxLogLines,
		"scheduler.chunk_size":             c.Scheduler.ChunkSize,
		"notifications.request_timeout":    c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLLM() error {
	if err := ensurePositiveMap(map[string]int{
		"llm.timeout_seconds": c.LLM.TimeoutSeconds,
		"llm.retry_attempts":  c.LLM.RetryAttempts,
	}); err != nil {
		return err
	}
	for alias, profile := range c.LLM.Profiles {
		if alias == "" {
			return errors.New("llm.profiles: alias must not be blank")
		}
		if profile.APIKey == "" {
			return fmt.Errorf("llm.profiles.%s.api_key must be set", alias)
		}
	}
	if c.LLM.DefaultProfile != "" {
		if _, ok := c.LLM.Profiles[c.LLM.DefaultProfile]; !ok {
			return fmt.Errorf("llm.default_profile %q does not match any llm.profiles entry (or set %s)", c.LLM.DefaultProfile, defaultEnvAPIKey)
		}
	}
	return nil
}

func (c *Config) validateSMTP() error {
	for name, profile := range c.SMTP.Profiles {
		if name == "" {
			return errors.New("smtp.profiles: name must not be blank")
		}
		if profile.Server == "" {
			return fmt.Errorf("smtp.profiles.%s.server must be set", name)
		}
		if profile.SenderEmail == "" {
			return fmt.Errorf("smtp.profiles.%s.sender_email must be set", name)
		}
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if !sourceIDPattern.MatchString(src.ID) {
			return fmt.Errorf("sources[%d].id %q must match %s", i, src.ID, sourceIDPattern.String())
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, src.ID)
		}
		seen[src.ID] = struct{}{}
		if err := c.validateSource(src); err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
	}
	return nil
}

func (c *Config) validateSource(src *Source) error {
	if src.IsEnabled() {
		if src.LogFile == "" {
			return errors.New("log_file must be set for enabled sources")
		}
		if len(src.Stages) == 0 {
			return errors.New("pipeline_stages must define at least one stage for enabled sources")
		}
	}
	if err := c.validateCredential("credential", src.Credential); err != nil {
		return err
	}
	if src.SMTPProfile != "" {
		if _, ok := c.SMTP.Profiles[src.SMTPProfile]; !ok {
			return fmt.Errorf("smtp_profile %q does not match any smtp.profiles entry", src.SMTPProfile)
		}
	}

	slugs := make(map[string]string, len(src.Stages))
	for idx, stage := range src.Stages {
		field := fmt.Sprintf("pipeline_stages[%d]", idx)
		if stage.Name == "" {
			return fmt.Errorf("%s.name must be set", field)
		}
		slug := textutil.Slugify(stage.Name)
		if slug == "" {
			return fmt.Errorf("%s.name %q has no usable characters", field, stage.Name)
		}
		if other, dup := slugs[slug]; dup {
			return fmt.Errorf("%s.name %q collides with stage %q", field, stage.Name, other)
		}
		slugs[slug] = stage.Name
		if stage.Model == "" {
			return fmt.Errorf("%s.model must be set", field)
		}
		if stage.PromptFile == "" {
			return fmt.Errorf("%s.prompt_file must be set", field)
		}
		if idx > 0 && stage.TriggerThreshold < 1 {
			return fmt.Errorf("%s.trigger_threshold must be >= 1", field)
		}
		if idx > 0 && len(stage.Substages) > 0 {
			return fmt.Errorf("%s.substages are only supported on the first stage", field)
		}
		if err := c.validateCredential(field+".credential", stage.Credential); err != nil {
			return err
		}
		for _, recipient := range stage.Recipients {
			if _, err := mail.ParseAddress(recipient); err != nil {
				return fmt.Errorf("%s.recipients: invalid address %q", field, recipient)
			}
		}
		subNames := map[string]struct{}{"main": {}}
		for sIdx, sub := range stage.Substages {
			subField := fmt.Sprintf("%s.substages[%d]", field, sIdx)
			if sub.Name == "" {
				return fmt.Errorf("%s.name must be set", subField)
			}
			if _, dup := subNames[strings.ToLower(sub.Name)]; dup {
				return fmt.Errorf("%s.name %q is duplicated or reserved", subField, sub.Name)
			}
			subNames[strings.ToLower(sub.Name)] = struct{}{}
			if sub.PromptFile == "" {
				return fmt.Errorf("%s.prompt_file must be set", subField)
			}
			if err := c.validateCredential(subField+".credential", sub.Credential); err != nil {
				return err
			}
		}
		if stage.SummaryConf != nil {
			if err := c.validateCredential(field+".summary_conf.credential", stage.SummaryConf.Credential); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) validateCredential(field, value string) error {
	alias, ok := strings.CutPrefix(value, CredentialProfilePrefix)
	if !ok {
		return nil
	}
	alias = strings.TrimSpace(alias)
	if _, exists := c.LLM.Profiles[alias]; !exists {
		return fmt.Errorf("%s references unknown profile %q", field, alias)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
