package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/repostguard/repostguard/internal/events"
)

// StoreEvent stores a moderation event in the database.
func (s *SQLiteStorage) StoreEvent(ctx context.Context, event *events.Event) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO moderation_events (
			id, type, timestamp, community_id, channel_id, message_id,
			author_id, severity, message, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Timestamp,
		event.CommunityID,
		event.ChannelID,
		event.MessageID,
		event.AuthorID,
		event.Severity,
		event.Message,
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, community=%s): %w", event.Type, event.CommunityID, err)
	}

	return nil
}

// GetEvents retrieves events matching the given filter, most recent first.
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter events.Filter) ([]*events.Event, error) {
	query := `
		SELECT id, type, timestamp, community_id, channel_id, message_id,
		       author_id, severity, message, data
		FROM moderation_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.CommunityID != "" {
		query += " AND community_id = ?"
		args = append(args, filter.CommunityID)
	}
	if filter.ChannelID != "" {
		query += " AND channel_id = ?"
		args = append(args, filter.ChannelID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}
	if !filter.AfterTime.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.AfterTime)
	}
	if !filter.BeforeTime.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.BeforeTime)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetRecentEvents retrieves the most recent events up to the given limit.
func (s *SQLiteStorage) GetRecentEvents(ctx context.Context, limit int) ([]*events.Event, error) {
	return s.GetEvents(ctx, events.Filter{Limit: limit})
}

// EventCounts summarizes the event table for retention decisions.
type EventCounts struct {
	Total      int
	BySeverity map[string]int
	Oldest     time.Time
	Newest     time.Time
}

// GetEventCounts returns the current shape of the event table.
func (s *SQLiteStorage) GetEventCounts(ctx context.Context) (*EventCounts, error) {
	counts := &EventCounts{BySeverity: make(map[string]int)}

	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM moderation_events
	`).Scan(&counts.Total, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if oldest.Valid {
		counts.Oldest = oldest.Time
	}
	if newest.Valid {
		counts.Newest = newest.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM moderation_events GROUP BY severity
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by severity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts.BySeverity[severity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating severity counts: %w", err)
	}

	return counts, nil
}

// CleanupEventsByAge deletes events older than retentionDays, in batches to
// keep transactions short. Returns the number of rows deleted.
func (s *SQLiteStorage) CleanupEventsByAge(ctx context.Context, retentionDays, batchSize int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	total := 0
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM moderation_events
			WHERE id IN (
				SELECT id FROM moderation_events
				WHERE timestamp < ?
				ORDER BY timestamp ASC
				LIMIT ?
			)
		`, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired events: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count deleted events: %w", err)
		}
		total += int(n)
		if int(n) < batchSize {
			return total, nil
		}
	}
}

func scanEvents(rows *sql.Rows) ([]*events.Event, error) {
	var result []*events.Event

	for rows.Next() {
		var event events.Event
		var dataJSON string

		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Timestamp,
			&event.CommunityID,
			&event.ChannelID,
			&event.MessageID,
			&event.AuthorID,
			&event.Severity,
			&event.Message,
			&dataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Data = make(map[string]interface{})
		if dataJSON != "" && dataJSON != "{}" {
			if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}

		result = append(result, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return result, nil
}
