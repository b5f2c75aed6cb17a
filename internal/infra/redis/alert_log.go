package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// AlertLog implements storage.AlertLog as a capped Redis list, newest first.
type AlertLog struct {
	rdb       redis.UniversalClient
	key       string
	maxAlerts int64
}

// NewAlertLog creates an alert log that keeps at most maxAlerts entries.
func NewAlertLog(client *Client, maxAlerts int) *AlertLog {
	if maxAlerts <= 0 {
		maxAlerts = 100
	}
	return &AlertLog{
		rdb:       client.rdb,
		key:       fmt.Sprintf("%s:alerts", client.prefix),
		maxAlerts: int64(maxAlerts),
	}
}

// Append pushes the alert and trims the list in one transaction.
func (l *AlertLog) Append(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, data)
		pipe.LTrim(ctx, l.key, 0, l.maxAlerts-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// Recent returns up to limit alerts, newest first.
func (l *AlertLog) Recent(ctx context.Context, limit int) ([]domain.Alert, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := l.rdb.LRange(ctx, l.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	alerts := make([]domain.Alert, 0, len(raw))
	for _, item := range raw {
		var a domain.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			slog.Warn("Skipping corrupt alert entry", "error", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
