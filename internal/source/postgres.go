package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/speakup/notification-engine/internal/domain"
)

// PostgresSource polls the external complaints table and turns row changes
// into feed events. Each subscription runs its own polling loop; rows are
// diffed by updated_at so redelivered unchanged rows produce no events.
type PostgresSource struct {
	pool     *pgxpool.Pool
	interval time.Duration
	logger   *zap.Logger
}

// NewPostgresSource builds a polling source over an existing pool.
func NewPostgresSource(pool *pgxpool.Pool, interval time.Duration, logger *zap.Logger) *PostgresSource {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PostgresSource{pool: pool, interval: interval, logger: logger}
}

// Subscribe starts a polling loop for the scope. The first successful query
// is delivered as the initial snapshot; later polls emit incremental changes.
func (s *PostgresSource) Subscribe(ctx context.Context, scope Scope) (Feed, error) {
	loopCtx, cancel := context.WithCancel(ctx)
	f := &pollFeed{events: make(chan Event, feedBuffer), cancel: cancel}
	go s.run(loopCtx, scope, f)
	return f, nil
}

func (s *PostgresSource) run(ctx context.Context, scope Scope, f *pollFeed) {
	defer close(f.events)

	known := make(map[string]time.Time)
	initial := true

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		rows, err := s.fetch(ctx, scope)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("complaint poll failed", zap.Error(err))
			if !f.send(ctx, Event{Err: err}) {
				return
			}
		} else if initial {
			snapshot := make([]domain.ComplaintRecord, 0, len(rows))
			for _, row := range rows {
				snapshot = append(snapshot, row.record)
				known[row.record.ID] = row.updatedAt
			}
			if !f.send(ctx, Event{Snapshot: snapshot}) {
				return
			}
			initial = false
		} else {
			seen := make(map[string]struct{}, len(rows))
			for _, row := range rows {
				seen[row.record.ID] = struct{}{}
				prev, ok := known[row.record.ID]
				switch {
				case !ok:
					if !f.send(ctx, Event{Change: &Change{Type: ChangeAdded, RecordID: row.record.ID, Record: row.record}}) {
						return
					}
				case !row.updatedAt.Equal(prev):
					if !f.send(ctx, Event{Change: &Change{Type: ChangeModified, RecordID: row.record.ID, Record: row.record}}) {
						return
					}
				}
				known[row.record.ID] = row.updatedAt
			}
			for id := range known {
				if _, ok := seen[id]; ok {
					continue
				}
				delete(known, id)
				if !f.send(ctx, Event{Change: &Change{Type: ChangeRemoved, RecordID: id}}) {
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type complaintRow struct {
	record    domain.ComplaintRecord
	updatedAt time.Time
}

func (s *PostgresSource) fetch(ctx context.Context, scope Scope) ([]complaintRow, error) {
	const base = `
        SELECT id, category, status, status_updated_at, assigned_role, assignment_updated_at,
               feedback, feedback_history, feedback_updated_at, submission_date,
               user_id, user_email, updated_at
        FROM complaints`

	var (
		rows pgx.Rows
		err  error
	)
	switch scope.Kind {
	case ScopeAssignedRole:
		rows, err = s.pool.Query(ctx, base+` WHERE assigned_role = $1`, string(scope.Role))
	case ScopeUser:
		if scope.UserID != "" {
			rows, err = s.pool.Query(ctx, base+` WHERE user_id = $1`, scope.UserID)
		} else {
			rows, err = s.pool.Query(ctx, base+` WHERE user_email = $1`, scope.UserEmail)
		}
	default:
		rows, err = s.pool.Query(ctx, base+` ORDER BY submission_date DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []complaintRow
	for rows.Next() {
		var (
			row          complaintRow
			statusAt     *time.Time
			assignmentAt *time.Time
			feedbackAt   *time.Time
			submittedAt  *time.Time
			feedback     *string
			historyRaw   []byte
			userID       *string
			userEmail    *string
			assignedRole *string
		)
		if err := rows.Scan(
			&row.record.ID,
			&row.record.Category,
			&row.record.Status,
			&statusAt,
			&assignedRole,
			&assignmentAt,
			&feedback,
			&historyRaw,
			&feedbackAt,
			&submittedAt,
			&userID,
			&userEmail,
			&row.updatedAt,
		); err != nil {
			return nil, err
		}
		row.record.StatusUpdatedAt = derefTime(statusAt)
		row.record.AssignmentUpdatedAt = derefTime(assignmentAt)
		row.record.FeedbackUpdatedAt = derefTime(feedbackAt)
		row.record.SubmissionDate = derefTime(submittedAt)
		if feedback != nil {
			row.record.Feedback = *feedback
		}
		if assignedRole != nil {
			row.record.AssignedRole = domain.ViewerRole(*assignedRole)
		}
		if userID != nil {
			row.record.UserID = *userID
		}
		if userEmail != nil {
			row.record.UserEmail = *userEmail
		}
		if len(historyRaw) > 0 {
			// Malformed history is tolerated as empty rather than failing the poll.
			_ = json.Unmarshal(historyRaw, &row.record.FeedbackHistory)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func derefTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

type pollFeed struct {
	events chan Event
	cancel context.CancelFunc
}

func (f *pollFeed) Events() <-chan Event { return f.events }

func (f *pollFeed) Close() { f.cancel() }

func (f *pollFeed) send(ctx context.Context, ev Event) bool {
	select {
	case f.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
