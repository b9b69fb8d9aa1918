package sqlite

const schema = `
-- Moderation events table (audit trail)
CREATE TABLE IF NOT EXISTS moderation_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL CHECK(type IN (
        'duplicate_flagged', 'reply_sent', 'reaction_added', 'message_deleted',
        'action_failed', 'record_superseded', 'job_started', 'job_finished',
        'policy_updated', 'store_cleared')),
    timestamp DATETIME NOT NULL,
    community_id TEXT NOT NULL,
    channel_id TEXT NOT NULL DEFAULT '',
    message_id TEXT NOT NULL DEFAULT '',
    author_id TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL CHECK(severity IN ('info', 'warning', 'error')),
    message TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_moderation_events_community ON moderation_events(community_id);
CREATE INDEX IF NOT EXISTS idx_moderation_events_type ON moderation_events(type);
CREATE INDEX IF NOT EXISTS idx_moderation_events_severity ON moderation_events(severity);
CREATE INDEX IF NOT EXISTS idx_moderation_events_timestamp ON moderation_events(timestamp);

-- Job summaries table
-- One row per finished scan, catch-up, or flag-clear job
CREATE TABLE IF NOT EXISTS job_summaries (
    job_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    community_id TEXT NOT NULL,
    partition_key TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    counts TEXT NOT NULL DEFAULT '{}',
    canceled INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_summaries_community ON job_summaries(community_id);
CREATE INDEX IF NOT EXISTS idx_job_summaries_finished ON job_summaries(finished_at);

-- Catch-up markers table
-- Newest message ID already reconciled per (community, channel)
CREATE TABLE IF NOT EXISTS last_seen (
    community_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (community_id, channel_id)
);

-- Config table for key/value settings
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
