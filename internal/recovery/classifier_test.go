package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vietddude/deadletter/internal/core/domain"
)

func TestClassify(t *testing.T) {
	c := NewClassifier([]string{"Stripe", "zoom"})

	tests := []struct {
		name     string
		info     domain.ErrorInfo
		op       domain.OperationType
		provider string
		want     domain.Classification
	}{
		{
			name:     "defaults",
			info:     domain.ErrorInfo{Message: "something odd"},
			op:       domain.OperationStorage,
			provider: "s3",
			want: domain.Classification{
				Category:       domain.CategoryUnknown,
				Severity:       domain.SeverityMedium,
				BusinessImpact: domain.ImpactLow,
			},
		},
		{
			name:     "webhook connection timeout",
			info:     domain.ErrorInfo{Message: "dial tcp 10.0.0.1:443: connect: Connection Timed Out"},
			op:       domain.OperationWebhook,
			provider: "acme",
			want: domain.Classification{
				Category:       domain.CategoryNetwork,
				Severity:       domain.SeverityMedium,
				BusinessImpact: domain.ImpactMedium,
			},
		},
		{
			name:     "oauth unauthorized",
			info:     domain.ErrorInfo{Message: "invalid_token", StatusCode: 401},
			op:       domain.OperationOAuth,
			provider: "google",
			want: domain.Classification{
				Category:       domain.CategoryAuth,
				Severity:       domain.SeverityHigh,
				BusinessImpact: domain.ImpactHigh,
			},
		},
		{
			name:     "validation",
			info:     domain.ErrorInfo{Message: "unprocessable", StatusCode: 422},
			op:       domain.OperationStorage,
			provider: "s3",
			want: domain.Classification{
				Category:                   domain.CategoryValidation,
				Severity:                   domain.SeverityLow,
				BusinessImpact:             domain.ImpactLow,
				RequiresManualIntervention: true,
			},
		},
		{
			name:     "status overrides network text",
			info:     domain.ErrorInfo{Message: "upstream timeout", StatusCode: 504},
			op:       domain.OperationEmail,
			provider: "sendgrid",
			want: domain.Classification{
				Category:       domain.CategoryServer,
				Severity:       domain.SeverityHigh,
				BusinessImpact: domain.ImpactMedium,
			},
		},
		{
			name:     "client error",
			info:     domain.ErrorInfo{Message: "not found", StatusCode: 404},
			op:       domain.OperationCalendar,
			provider: "google",
			want: domain.Classification{
				Category:       domain.CategoryClient,
				Severity:       domain.SeverityMedium,
				BusinessImpact: domain.ImpactHigh,
			},
		},
		{
			name:     "video conference is critical",
			info:     domain.ErrorInfo{Message: "bad request", StatusCode: 400},
			op:       domain.OperationVideoConference,
			provider: "whereby",
			want: domain.Classification{
				Category:       domain.CategoryClient,
				Severity:       domain.SeverityHigh,
				BusinessImpact: domain.ImpactCritical,
			},
		},
		{
			name:     "critical provider raises impact",
			info:     domain.ErrorInfo{Message: "unprocessable", StatusCode: 422},
			op:       domain.OperationWebhook,
			provider: " stripe ",
			want: domain.Classification{
				Category:                   domain.CategoryValidation,
				Severity:                   domain.SeverityLow,
				BusinessImpact:             domain.ImpactHigh,
				RequiresManualIntervention: true,
			},
		},
		{
			name:     "critical provider never lowers",
			info:     domain.ErrorInfo{Message: "server error", StatusCode: 500},
			op:       domain.OperationVideoConference,
			provider: "zoom",
			want: domain.Classification{
				Category:       domain.CategoryServer,
				Severity:       domain.SeverityHigh,
				BusinessImpact: domain.ImpactCritical,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.info, tt.op, tt.provider)
			assert.Equal(t, tt.want, got)
			// Same input, same output
			assert.Equal(t, got, c.Classify(tt.info, tt.op, tt.provider))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[int]bool{
		0:   true,
		400: false,
		401: false,
		404: false,
		408: true,
		422: false,
		429: true,
		500: true,
		503: true,
		302: true,
	}
	for status, want := range cases {
		assert.Equal(t, want, IsRetryable(status), "status %d", status)
	}
}

func TestResolveSettings(t *testing.T) {
	base := Policy{EnableAutoRecovery: true, MaxAutoRetries: 3}

	tests := []struct {
		name        string
		cls         domain.Classification
		policy      Policy
		wantEnabled bool
		wantMax     int
		wantKind    domain.RetryStrategy
	}{
		{
			name:        "validation disables",
			cls:         domain.Classification{Category: domain.CategoryValidation},
			policy:      base,
			wantEnabled: false,
			wantMax:     3,
			wantKind:    domain.RetryManual,
		},
		{
			name:        "client caps at two",
			cls:         domain.Classification{Category: domain.CategoryClient},
			policy:      base,
			wantEnabled: true,
			wantMax:     2,
			wantKind:    domain.RetryExponential,
		},
		{
			name:        "network at least five",
			cls:         domain.Classification{Category: domain.CategoryNetwork},
			policy:      base,
			wantEnabled: true,
			wantMax:     5,
			wantKind:    domain.RetryExponential,
		},
		{
			name:        "network keeps larger configured",
			cls:         domain.Classification{Category: domain.CategoryNetwork},
			policy:      Policy{EnableAutoRecovery: true, MaxAutoRetries: 9},
			wantEnabled: true,
			wantMax:     9,
			wantKind:    domain.RetryExponential,
		},
		{
			name:        "critical impact at least seven",
			cls:         domain.Classification{Category: domain.CategoryClient, BusinessImpact: domain.ImpactCritical},
			policy:      base,
			wantEnabled: true,
			wantMax:     7,
			wantKind:    domain.RetryExponential,
		},
		{
			name:        "globally disabled",
			cls:         domain.Classification{Category: domain.CategoryServer},
			policy:      Policy{EnableAutoRecovery: false, MaxAutoRetries: 3},
			wantEnabled: false,
			wantMax:     3,
			wantKind:    domain.RetryManual,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ResolveSettings(tt.cls, domain.OperationWebhook, tt.policy)
			assert.Equal(t, tt.wantEnabled, rec.AutoRetryEnabled)
			assert.Equal(t, tt.wantMax, rec.MaxAutoRetries)
			assert.Equal(t, tt.wantKind, rec.RetryStrategy)
			assert.Zero(t, rec.CurrentRetryCount)
		})
	}
}

func TestIntervals_Delay(t *testing.T) {
	iv := Intervals{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour}

	assert.Equal(t, 5*time.Minute, iv.Delay(0))
	assert.Equal(t, 15*time.Minute, iv.Delay(1))
	assert.Equal(t, 2*time.Hour, iv.Delay(4))
	assert.Equal(t, 2*time.Hour, iv.Delay(12))
	assert.Equal(t, 5*time.Minute, iv.Delay(-1))
	assert.Zero(t, Intervals(nil).Delay(3))
}
