package preflight

import (
	"context"
	"slices"
	"strings"

	"logsentinel/internal/config"
)

// CheckServices probes every LLM credential profile referenced by an enabled
// stage, and every SMTP profile referenced by an enabled source. Literal keys
// embedded in stage credentials are not probed.
func CheckServices(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	models := profileModels(cfg)
	aliases := make([]string, 0, len(models))
	for alias := range models {
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)
	for _, alias := range aliases {
		profile := cfg.LLM.Profiles[alias]
		results = append(results, CheckLLM(ctx, "LLM profile "+alias, cfg.LLM, models[alias], profile.APIKey))
	}

	seen := map[string]bool{}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		name := strings.TrimSpace(src.SMTPProfile)
		if !src.IsEnabled() || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		profile, ok := cfg.SMTPProfileFor(name)
		if !ok {
			results = append(results, Result{Name: "SMTP profile " + name, Detail: "not configured"})
			continue
		}
		results = append(results, CheckSMTP(ctx, "SMTP profile "+name, profile))
	}
	return results
}

// profileModels maps each referenced profile alias to the first model that
// uses it.
func profileModels(cfg *config.Config) map[string]string {
	out := map[string]string{}
	note := func(credential, fallback, model string) {
		ref := strings.TrimSpace(credential)
		if ref == "" {
			ref = strings.TrimSpace(fallback)
		}
		var alias string
		switch {
		case ref == "":
			alias = cfg.LLM.DefaultProfile
		case strings.HasPrefix(ref, config.CredentialProfilePrefix):
			alias = strings.TrimSpace(strings.TrimPrefix(ref, config.CredentialProfilePrefix))
		default:
			return
		}
		if alias == "" || strings.TrimSpace(model) == "" {
			return
		}
		if _, ok := out[alias]; !ok {
			out[alias] = model
		}
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if !src.IsEnabled() {
			continue
		}
		for idx, stage := range src.Stages {
			if !src.StageEnabled(idx) {
				continue
			}
			note(stage.Credential, src.Credential, stage.Model)
			stageCredential := stage.Credential
			if strings.TrimSpace(stageCredential) == "" {
				stageCredential = src.Credential
			}
			for _, sub := range stage.Substages {
				if sub.IsEnabled() {
					note(sub.Credential, stageCredential, sub.Model)
				}
			}
			if stage.SummaryConf != nil {
				note(stage.SummaryConf.Credential, stageCredential, stage.SummaryConf.Model)
			}
		}
	}
	return out
}
