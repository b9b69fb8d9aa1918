package events

import "fmt"

// DuplicateFlagged records a match against an earlier record.
func DuplicateFlagged(communityID, channelID, messageID, authorID, originalSource string, distance int) *Event {
	e := New(EventDuplicateFlagged, communityID, SeverityWarning,
		fmt.Sprintf("duplicate of %s at distance %d", originalSource, distance))
	e.ChannelID = channelID
	e.MessageID = messageID
	e.AuthorID = authorID
	e.Data["original_source"] = originalSource
	e.Data["distance"] = distance
	return e
}

// ActionTaken records a successful flag action (reply, reaction, delete).
func ActionTaken(eventType EventType, communityID, channelID, messageID string) *Event {
	e := New(eventType, communityID, SeverityInfo, string(eventType))
	e.ChannelID = channelID
	e.MessageID = messageID
	return e
}

// ActionFailed records a flag action the platform rejected. The guard
// continues; the failure is auditable.
func ActionFailed(communityID, channelID, messageID, action string, cause error) *Event {
	e := New(EventActionFailed, communityID, SeverityError,
		fmt.Sprintf("%s failed: %v", action, cause))
	e.ChannelID = channelID
	e.MessageID = messageID
	e.Data["action"] = action
	return e
}

// RecordSuperseded records an older sighting replacing a stored record.
func RecordSuperseded(communityID, channelID, oldSource, newSource string) *Event {
	e := New(EventRecordSuperseded, communityID, SeverityInfo,
		fmt.Sprintf("record %s superseded by older sighting %s", oldSource, newSource))
	e.ChannelID = channelID
	e.Data["old_source"] = oldSource
	e.Data["new_source"] = newSource
	return e
}

// JobStarted brackets the beginning of a scan, catch-up, or flag-clear job.
func JobStarted(communityID, partition, jobID, kind string) *Event {
	e := New(EventJobStarted, communityID, SeverityInfo,
		fmt.Sprintf("%s job started", kind))
	e.ChannelID = partition
	e.Data["job_id"] = jobID
	e.Data["kind"] = kind
	return e
}

// JobFinished records a job's final accounting.
func JobFinished(communityID, partition, jobID, kind string, counts map[string]int, canceled bool, cause error) *Event {
	severity := SeverityInfo
	message := fmt.Sprintf("%s job finished", kind)
	switch {
	case cause != nil:
		severity = SeverityError
		message = fmt.Sprintf("%s job failed: %v", kind, cause)
	case canceled:
		message = fmt.Sprintf("%s job cancelled", kind)
	}
	e := New(EventJobFinished, communityID, severity, message)
	e.ChannelID = partition
	e.Data["job_id"] = jobID
	e.Data["kind"] = kind
	e.Data["canceled"] = canceled
	for k, v := range counts {
		e.Data[k] = v
	}
	return e
}

// PolicyUpdated records a community policy change.
func PolicyUpdated(communityID, actor string) *Event {
	e := New(EventPolicyUpdated, communityID, SeverityInfo, "policy updated")
	e.AuthorID = actor
	return e
}

// StoreCleared records a manual store or partition wipe.
func StoreCleared(communityID, partition string, removed int) *Event {
	e := New(EventStoreCleared, communityID, SeverityWarning,
		fmt.Sprintf("store cleared, %d records removed", removed))
	e.ChannelID = partition
	e.Data["removed"] = removed
	return e
}
