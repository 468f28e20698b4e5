package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"logsentinel/internal/config"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/services"
	"logsentinel/internal/services/llm"
)

// DirectAlias labels usage for literal API keys.
const DirectAlias = "direct"

// retryAfterCeiling caps server supplied Retry-After delays.
const retryAfterCeiling = 30 * time.Second

// UsageRecorder counts one HTTP attempt against a credential alias.
type UsageRecorder interface {
	Increment(ctx context.Context, alias string) error
}

// Service implements Analyzer against an OpenAI-compatible endpoint.
type Service struct {
	cfg        config.LLM
	usage      UsageRecorder
	logger     *slog.Logger
	httpClient *http.Client
	clientOpts []llm.Option

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService builds a Service from the llm config section. usage may be nil.
// Extra client options are applied after the configured retry policy.
func NewService(cfg config.LLM, usage UsageRecorder, logger *slog.Logger, opts ...llm.Option) *Service {
	timeout := llm.DefaultHTTPTimeout()
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Service{
		cfg:        cfg,
		usage:      usage,
		logger:     logging.NewComponentLogger(logger, "analysis"),
		httpClient: &http.Client{Timeout: timeout},
		clientOpts: opts,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Analyze renders the prompt and calls the model.
func (s *Service) Analyze(ctx context.Context, req Request) (string, error) {
	logger := logging.WithContext(ctx, s.logger)
	if strings.TrimSpace(req.Content) == "" {
		return "", Fatal(services.ErrValidation, errors.New("no content to analyze"))
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", Fatal(services.ErrConfiguration, errors.New("model required"))
	}
	alias, apiKey, err := s.resolveCredential(req.Credential)
	if err != nil {
		return "", err
	}
	template, err := loadTemplate(req)
	if err != nil {
		return "", withAlias(err, alias)
	}
	prompt, err := RenderPrompt(template, req.Content, req.BonusContext)
	if err != nil {
		return "", withAlias(Fatal(services.ErrConfiguration, err), alias)
	}

	if err := s.wait(ctx, alias); err != nil {
		return "", withAlias(Transient(fmt.Errorf("rate limiter: %w", err)), alias)
	}

	client := llm.NewClient(llm.Config{
		APIKey:         apiKey,
		BaseURL:        s.cfg.BaseURL,
		Referer:        s.cfg.Referer,
		Title:          s.cfg.Title,
		TimeoutSeconds: s.cfg.TimeoutSeconds,
	}, s.options(ctx, alias, logger)...)

	started := time.Now()
	logger.Debug("analysis request",
		logging.String("model", req.Model),
		logging.String("credential", alias),
		logging.String("worker", req.Worker),
		logging.Int("prompt_chars", len(prompt)),
		logging.Int("attachments", len(req.Attachments)),
	)
	text, err := client.Complete(ctx, llm.Request{
		Model: req.Model,
		User:  prompt,
		Parts: buildParts(req.Attachments, logger),
	})
	if err != nil {
		failure := withAlias(classify(err), alias)
		metrics.RecordLLMFailure(string(KindOf(failure)))
		return "", failure
	}
	logger.Info("analysis completed",
		logging.String("model", req.Model),
		logging.String("credential", alias),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int("response_chars", len(text)),
	)
	return text, nil
}

func (s *Service) options(ctx context.Context, alias string, logger *slog.Logger) []llm.Option {
	opts := []llm.Option{
		llm.WithHTTPClient(s.httpClient),
		llm.WithRetryMaxAttempts(s.cfg.RetryAttempts),
		llm.WithRetryBackoff(time.Duration(s.cfg.RetryBackoffSeconds)*time.Second, retryAfterCeiling),
		llm.WithAttemptHook(func(attempt int) {
			if attempt > 1 {
				logger.Info("retrying analysis request", logging.Int("attempt", attempt), logging.String("credential", alias))
			}
			if s.usage == nil {
				metrics.RecordLLMAttempt(alias)
				return
			}
			if err := s.usage.Increment(ctx, alias); err != nil {
				logging.WarnWithContext(logger, "usage counter not updated", "usage_increment_failed",
					logging.String("credential", alias),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check state_dir permissions"),
					logging.String(logging.FieldImpact, "usage report undercounts this call"),
				)
			}
		}),
	}
	return append(opts, s.clientOpts...)
}

// resolveCredential maps a credential reference to (alias, key).
func (s *Service) resolveCredential(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = s.cfg.DefaultProfile
		if ref == "" {
			return "", "", Fatal(services.ErrConfiguration, errors.New("no credential configured and llm.default_profile is empty"))
		}
		ref = config.CredentialProfilePrefix + ref
	}
	if alias, ok := strings.CutPrefix(ref, config.CredentialProfilePrefix); ok {
		alias = strings.TrimSpace(alias)
		profile, found := s.cfg.Profiles[alias]
		if !found || strings.TrimSpace(profile.APIKey) == "" {
			return "", "", Fatal(services.ErrConfiguration, fmt.Errorf("credential profile %q has no api_key", alias))
		}
		return alias, profile.APIKey, nil
	}
	return DirectAlias, ref, nil
}

func (s *Service) wait(ctx context.Context, alias string) error {
	if s.cfg.RequestsPerMinute <= 0 {
		return nil
	}
	s.mu.Lock()
	limiter, ok := s.limiters[alias]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.cfg.RequestsPerMinute)), 1)
		s.limiters[alias] = limiter
	}
	s.mu.Unlock()
	return limiter.Wait(ctx)
}

func classify(err error) *Failure {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return Transient(err)
		}
		if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden {
			return Fatal(services.ErrConfiguration, err)
		}
		return Fatal(services.ErrExternalTool, err)
	}
	var emptyErr *llm.EmptyContentError
	if errors.As(err, &emptyErr) {
		return Blocked(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		failure := Transient(err)
		failure.marker = services.ErrTimeout
		return failure
	}
	return Transient(err)
}

func withAlias(err error, alias string) error {
	var failure *Failure
	if errors.As(err, &failure) && failure.Alias == "" {
		failure.Alias = alias
	}
	return err
}
