package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/infra/storage"
)

// ArchiveRepo implements storage.ArchiveStore on a SQL table.
type ArchiveRepo struct {
	db  *DB
	now func() time.Time
}

// NewArchiveRepo creates a new archive repository.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db, now: time.Now}
}

type archiveRow struct {
	ID            string         `db:"id"`
	OriginalQueue string         `db:"original_queue"`
	OperationType string         `db:"operation_type"`
	Provider      string         `db:"provider"`
	Status        string         `db:"status"`
	ResolvedBy    string         `db:"resolved_by"`
	Tags          pq.StringArray `db:"tags"`
	Record        string         `db:"record"`
	CreatedAt     int64          `db:"created_at"`
	ResolvedAt    sql.NullInt64  `db:"resolved_at"`
	ArchivedAt    int64          `db:"archived_at"`
}

// Archive upserts a copy of the message.
func (r *ArchiveRepo) Archive(ctx context.Context, m *domain.Message) error {
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	tags := pq.StringArray(m.Metadata.Tags)
	if tags == nil {
		tags = pq.StringArray{}
	}

	row := archiveRow{
		ID:            m.ID,
		OriginalQueue: m.OriginalQueue,
		OperationType: string(m.OperationType),
		Provider:      m.Provider,
		Status:        string(m.Resolution.Status),
		ResolvedBy:    m.Resolution.ResolvedBy,
		Tags:          tags,
		Record:        string(record),
		CreatedAt:     m.CreatedAt.Unix(),
		ArchivedAt:    r.now().Unix(),
	}
	if m.Resolution.ResolvedAt != nil {
		row.ResolvedAt = sql.NullInt64{Int64: m.Resolution.ResolvedAt.Unix(), Valid: true}
	}

	query := `
		INSERT INTO archived_messages
			(id, original_queue, operation_type, provider, status, resolved_by, tags, record, created_at, resolved_at, archived_at)
		VALUES
			(:id, :original_queue, :operation_type, :provider, :status, :resolved_by, :tags, :record, :created_at, :resolved_at, :archived_at)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			resolved_by = excluded.resolved_by,
			record = excluded.record,
			resolved_at = excluded.resolved_at,
			archived_at = excluded.archived_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to archive message %s: %w", m.ID, err)
	}
	return nil
}

// Get loads an archived message.
func (r *ArchiveRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	var record string
	query := r.db.Rebind(`SELECT record FROM archived_messages WHERE id = ?`)
	err := r.db.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archived message: %w", err)
	}

	var m domain.Message
	if err := json.Unmarshal([]byte(record), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived message %s: %w", id, err)
	}
	return &m, nil
}

// Count returns the number of archived messages.
func (r *ArchiveRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM archived_messages`); err != nil {
		return 0, fmt.Errorf("failed to count archived messages: %w", err)
	}
	return count, nil
}
