package recovery

import (
	"strings"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// networkMarkers are substrings of error text that indicate the remote host
// was never reached or did not answer in time.
var networkMarkers = []string{
	"econnrefused",
	"econnreset",
	"enotfound",
	"etimedout",
	"ehostunreach",
	"connection refused",
	"connection reset",
	"no such host",
	"host not found",
	"network is unreachable",
	"socket hang up",
	"i/o timeout",
	"timed out",
	"timeout",
}

// Classifier maps a raw failure to its classification.
// It holds only configuration, so Classify is deterministic.
type Classifier struct {
	critical map[string]struct{}
}

// NewClassifier creates a classifier. criticalProviders are payment or
// conferencing systems whose failures always carry at least high impact.
func NewClassifier(criticalProviders []string) *Classifier {
	c := &Classifier{critical: make(map[string]struct{}, len(criticalProviders))}
	for _, p := range criticalProviders {
		c.critical[normalizeProvider(p)] = struct{}{}
	}
	return c
}

// Classify computes category, severity, business impact and the manual flag.
func (c *Classifier) Classify(
	info domain.ErrorInfo,
	op domain.OperationType,
	provider string,
) domain.Classification {
	cls := domain.Classification{
		Category:       domain.CategoryUnknown,
		Severity:       domain.SeverityMedium,
		BusinessImpact: domain.ImpactLow,
	}

	if isNetworkMessage(info.Message) {
		cls.Category = domain.CategoryNetwork
	}

	// HTTP status assigns explicitly, it is the strongest signal
	switch status := info.StatusCode; {
	case status == 401 || status == 403:
		cls.Category = domain.CategoryAuth
		cls.Severity = domain.SeverityHigh
	case status == 422:
		cls.Category = domain.CategoryValidation
		cls.Severity = domain.SeverityLow
		cls.RequiresManualIntervention = true
	case status >= 400 && status < 500:
		cls.Category = domain.CategoryClient
	case status >= 500 && status < 600:
		cls.Category = domain.CategoryServer
		cls.Severity = domain.SeverityHigh
	}

	// From here on values are only raised
	switch op {
	case domain.OperationWebhook:
		if cls.Category == domain.CategoryNetwork || cls.Category == domain.CategoryServer {
			raiseImpact(&cls, domain.ImpactMedium)
		}
	case domain.OperationOAuth:
		raiseImpact(&cls, domain.ImpactHigh)
		if cls.Category == domain.CategoryAuth {
			raiseSeverity(&cls, domain.SeverityHigh)
		}
	case domain.OperationEmail, domain.OperationSMS:
		raiseImpact(&cls, domain.ImpactMedium)
	case domain.OperationCalendar:
		raiseImpact(&cls, domain.ImpactHigh)
	case domain.OperationVideoConference:
		raiseImpact(&cls, domain.ImpactCritical)
		raiseSeverity(&cls, domain.SeverityHigh)
	}

	if c.IsCritical(provider) {
		raiseImpact(&cls, domain.ImpactHigh)
	}

	return cls
}

// IsCritical reports whether provider is flagged payment or conferencing critical.
func (c *Classifier) IsCritical(provider string) bool {
	_, ok := c.critical[normalizeProvider(provider)]
	return ok
}

// IsRetryable is the audit heuristic stored on ErrorInfo.Retryable.
// A zero status means no HTTP response was received.
func IsRetryable(status int) bool {
	switch {
	case status == 0:
		return true
	case status == 408 || status == 429:
		return true
	case status >= 400 && status < 500:
		return false
	default:
		return true
	}
}

func isNetworkMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range networkMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func raiseImpact(cls *domain.Classification, to domain.Impact) {
	if to.Rank() > cls.BusinessImpact.Rank() {
		cls.BusinessImpact = to
	}
}

func raiseSeverity(cls *domain.Classification, to domain.Severity) {
	if to.Rank() > cls.Severity.Rank() {
		cls.Severity = to
	}
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
