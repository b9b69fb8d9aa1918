package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobSummary is the persisted accounting of one finished maintenance job.
type JobSummary struct {
	JobID       string
	Kind        string
	CommunityID string
	Partition   string
	StartedAt   time.Time
	FinishedAt  time.Time
	Counts      map[string]int
	Canceled    bool
	Error       string
}

// RecordJobSummary stores the summary of a finished job.
func (s *SQLiteStorage) RecordJobSummary(ctx context.Context, summary *JobSummary) error {
	countsJSON, err := json.Marshal(summary.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal job counts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_summaries (
			job_id, kind, community_id, partition_key,
			started_at, finished_at, counts, canceled, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.JobID,
		summary.Kind,
		summary.CommunityID,
		summary.Partition,
		summary.StartedAt,
		summary.FinishedAt,
		string(countsJSON),
		summary.Canceled,
		summary.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record job summary %s: %w", summary.JobID, err)
	}
	return nil
}

// GetJobSummaries returns finished jobs, most recent first. An empty
// communityID matches all communities.
func (s *SQLiteStorage) GetJobSummaries(ctx context.Context, communityID string, limit int) ([]*JobSummary, error) {
	query := `
		SELECT job_id, kind, community_id, partition_key,
		       started_at, finished_at, counts, canceled, error
		FROM job_summaries
		WHERE 1=1
	`
	args := []interface{}{}
	if communityID != "" {
		query += " AND community_id = ?"
		args = append(args, communityID)
	}
	query += " ORDER BY finished_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job summaries: %w", err)
	}
	defer rows.Close()

	var result []*JobSummary
	for rows.Next() {
		var summary JobSummary
		var countsJSON string
		err := rows.Scan(
			&summary.JobID,
			&summary.Kind,
			&summary.CommunityID,
			&summary.Partition,
			&summary.StartedAt,
			&summary.FinishedAt,
			&countsJSON,
			&summary.Canceled,
			&summary.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job summary: %w", err)
		}
		summary.Counts = make(map[string]int)
		if countsJSON != "" && countsJSON != "{}" && countsJSON != "null" {
			if err := json.Unmarshal([]byte(countsJSON), &summary.Counts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal job counts: %w", err)
			}
		}
		result = append(result, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job summary rows: %w", err)
	}
	return result, nil
}
