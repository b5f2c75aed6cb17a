package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// Built-in strategy names.
const (
	NameOAuthRefresh       = "oauth-refresh"
	NameWebhookHealthCheck = "webhook-health-check"
	NameEmailFallback      = "email-fallback"
	NameSMSFallback        = "sms-fallback"
	NameNetworkRetry       = "network-retry"
	NameGenericReplay      = "generic-replay"
)

// ErrInvalidPayload is returned when a message cannot be replayed from its payload.
var ErrInvalidPayload = errors.New("missing or undecodable payload")

// TokenRefresher obtains fresh credentials for a provider.
type TokenRefresher interface {
	Refresh(ctx context.Context, m *domain.Message) error
}

// HealthChecker probes a provider endpoint.
type HealthChecker interface {
	Check(ctx context.Context, provider string) error
}

// WebhookSender delivers a webhook payload again.
type WebhookSender interface {
	Redeliver(ctx context.Context, m *domain.Message) error
}

// FallbackSender hands a message to an alternate provider of the same channel.
type FallbackSender interface {
	SendFallback(ctx context.Context, m *domain.Message) error
}

// Replayer resubmits the original operation.
type Replayer interface {
	Replay(ctx context.Context, m *domain.Message) error
}

// meta carries the static attributes shared by every built-in.
type meta struct {
	name        string
	description string
	priority    int
	delay       time.Duration
	maxRetries  int
}

func (m meta) Name() string              { return m.name }
func (m meta) Description() string       { return m.description }
func (m meta) Priority() int             { return m.priority }
func (m meta) RetryDelay() time.Duration { return m.delay }
func (m meta) MaxRetries() int           { return m.maxRetries }

// requirePayload rejects messages that carry nothing to resubmit.
func requirePayload(m *domain.Message) error {
	if len(m.Payload) == 0 || !json.Valid(m.Payload) {
		return Fault(fmt.Errorf("%w: message %s", ErrInvalidPayload, m.ID))
	}
	return nil
}

// OAuthRefresh refreshes the provider token and replays the operation.
type OAuthRefresh struct {
	meta
	refresher TokenRefresher
	replayer  Replayer
}

// NewOAuthRefresh creates the oauth-refresh strategy. replayer may be nil,
// in which case a successful refresh alone counts as recovery.
func NewOAuthRefresh(refresher TokenRefresher, replayer Replayer) *OAuthRefresh {
	return &OAuthRefresh{
		meta: meta{
			name:        NameOAuthRefresh,
			description: "Refresh expired OAuth credentials and replay the operation",
			priority:    10,
			delay:       time.Minute,
			maxRetries:  3,
		},
		refresher: refresher,
		replayer:  replayer,
	}
}

func (s *OAuthRefresh) Matches(m *domain.Message) bool {
	return m.OperationType == domain.OperationOAuth &&
		m.Classification.Category == domain.CategoryAuth &&
		m.Error.StatusCode == 401
}

func (s *OAuthRefresh) Recover(ctx context.Context, m *domain.Message) (bool, error) {
	if err := s.refresher.Refresh(ctx, m); err != nil {
		return false, fmt.Errorf("token refresh: %w", err)
	}
	if s.replayer == nil {
		return true, nil
	}
	if err := requirePayload(m); err != nil {
		return false, err
	}
	if err := s.replayer.Replay(ctx, m); err != nil {
		return false, fmt.Errorf("replay after refresh: %w", err)
	}
	return true, nil
}

// WebhookHealthCheck redelivers a webhook once its endpoint reports healthy.
type WebhookHealthCheck struct {
	meta
	checker HealthChecker
	sender  WebhookSender
}

func NewWebhookHealthCheck(checker HealthChecker, sender WebhookSender) *WebhookHealthCheck {
	return &WebhookHealthCheck{
		meta: meta{
			name:        NameWebhookHealthCheck,
			description: "Probe the webhook endpoint and redeliver when it is healthy",
			priority:    20,
			delay:       10 * time.Minute,
			maxRetries:  5,
		},
		checker: checker,
		sender:  sender,
	}
}

func (s *WebhookHealthCheck) Matches(m *domain.Message) bool {
	if m.OperationType != domain.OperationWebhook {
		return false
	}
	c := m.Classification.Category
	return c == domain.CategoryNetwork || c == domain.CategoryServer
}

func (s *WebhookHealthCheck) Recover(ctx context.Context, m *domain.Message) (bool, error) {
	if err := requirePayload(m); err != nil {
		return false, err
	}
	if err := s.checker.Check(ctx, m.Provider); err != nil {
		return false, fmt.Errorf("endpoint unhealthy: %w", err)
	}
	if err := s.sender.Redeliver(ctx, m); err != nil {
		return false, fmt.Errorf("redelivery: %w", err)
	}
	return true, nil
}

// Fallback routes an email or SMS through the alternate provider.
type Fallback struct {
	meta
	op     domain.OperationType
	sender FallbackSender
}

// NewEmailFallback creates the email-fallback strategy.
func NewEmailFallback(sender FallbackSender) *Fallback {
	return &Fallback{
		meta: meta{
			name:        NameEmailFallback,
			description: "Send the email through the fallback provider",
			priority:    30,
			delay:       2 * time.Minute,
			maxRetries:  3,
		},
		op:     domain.OperationEmail,
		sender: sender,
	}
}

// NewSMSFallback creates the sms-fallback strategy.
func NewSMSFallback(sender FallbackSender) *Fallback {
	return &Fallback{
		meta: meta{
			name:        NameSMSFallback,
			description: "Send the SMS through the fallback provider",
			priority:    40,
			delay:       2 * time.Minute,
			maxRetries:  3,
		},
		op:     domain.OperationSMS,
		sender: sender,
	}
}

func (s *Fallback) Matches(m *domain.Message) bool {
	return m.OperationType == s.op && m.Classification.Category == domain.CategoryServer
}

func (s *Fallback) Recover(ctx context.Context, m *domain.Message) (bool, error) {
	if err := requirePayload(m); err != nil {
		return false, err
	}
	if err := s.sender.SendFallback(ctx, m); err != nil {
		return false, fmt.Errorf("fallback send: %w", err)
	}
	return true, nil
}

// Replay resubmits the original operation unchanged.
type Replay struct {
	meta
	match    func(m *domain.Message) bool
	replayer Replayer
}

// NewNetworkRetry creates the network-retry strategy.
func NewNetworkRetry(replayer Replayer) *Replay {
	return &Replay{
		meta: meta{
			name:        NameNetworkRetry,
			description: "Replay operations that failed before reaching the provider",
			priority:    50,
			delay:       5 * time.Minute,
			maxRetries:  5,
		},
		match: func(m *domain.Message) bool {
			return m.Classification.Category == domain.CategoryNetwork
		},
		replayer: replayer,
	}
}

// NewGenericReplay creates the catch-all generic-replay strategy. Client errors
// are only replayed when the failure was marked retryable (408, 429).
func NewGenericReplay(replayer Replayer) *Replay {
	return &Replay{
		meta: meta{
			name:        NameGenericReplay,
			description: "Replay server-side and unclassified failures",
			priority:    100,
			delay:       5 * time.Minute,
			maxRetries:  3,
		},
		match: func(m *domain.Message) bool {
			switch m.Classification.Category {
			case domain.CategoryServer, domain.CategoryUnknown:
				return true
			case domain.CategoryClient:
				return m.Error.Retryable
			default:
				return false
			}
		},
		replayer: replayer,
	}
}

func (s *Replay) Matches(m *domain.Message) bool {
	return s.match(m)
}

func (s *Replay) Recover(ctx context.Context, m *domain.Message) (bool, error) {
	if err := requirePayload(m); err != nil {
		return false, err
	}
	if err := s.replayer.Replay(ctx, m); err != nil {
		return false, fmt.Errorf("replay: %w", err)
	}
	return true, nil
}

// Collaborators are the external systems built-in strategies call.
// A nil collaborator leaves the strategies that need it unregistered.
type Collaborators struct {
	TokenRefresher TokenRefresher
	HealthChecker  HealthChecker
	WebhookSender  WebhookSender
	EmailFallback  FallbackSender
	SMSFallback    FallbackSender
	Replayer       Replayer
}

// Builtins returns the built-in strategies whose collaborators are configured.
func Builtins(c Collaborators) []Strategy {
	var out []Strategy
	if c.TokenRefresher != nil {
		out = append(out, NewOAuthRefresh(c.TokenRefresher, c.Replayer))
	}
	if c.HealthChecker != nil && c.WebhookSender != nil {
		out = append(out, NewWebhookHealthCheck(c.HealthChecker, c.WebhookSender))
	}
	if c.EmailFallback != nil {
		out = append(out, NewEmailFallback(c.EmailFallback))
	}
	if c.SMSFallback != nil {
		out = append(out, NewSMSFallback(c.SMSFallback))
	}
	if c.Replayer != nil {
		out = append(out, NewNetworkRetry(c.Replayer), NewGenericReplay(c.Replayer))
	}
	return out
}
