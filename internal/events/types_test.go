package events

import (
	"errors"
	"testing"
)

func TestNewPopulatesIdentity(t *testing.T) {
	e := New(EventDuplicateFlagged, "guild-1", SeverityWarning, "dup")
	if e.ID == "" {
		t.Error("ID not generated")
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if e.CommunityID != "guild-1" {
		t.Errorf("CommunityID = %q", e.CommunityID)
	}
	if e.Data == nil {
		t.Error("Data map not initialized")
	}
}

func TestDuplicateFlaggedCarriesMatchDetail(t *testing.T) {
	e := DuplicateFlagged("guild-1", "555", "200", "8", "100-a.png", 3)
	if e.Type != EventDuplicateFlagged || e.Severity != SeverityWarning {
		t.Errorf("type=%s severity=%s", e.Type, e.Severity)
	}
	if e.Data["original_source"] != "100-a.png" || e.Data["distance"] != 3 {
		t.Errorf("Data = %v", e.Data)
	}
}

func TestJobFinishedSeverity(t *testing.T) {
	clean := JobFinished("guild-1", "", "job-1", "scan", map[string]int{"flagged": 2}, false, nil)
	if clean.Severity != SeverityInfo {
		t.Errorf("clean severity = %s", clean.Severity)
	}
	if clean.Data["flagged"] != 2 {
		t.Errorf("counts lost: %v", clean.Data)
	}

	failed := JobFinished("guild-1", "", "job-2", "scan", nil, false, errors.New("boom"))
	if failed.Severity != SeverityError {
		t.Errorf("failed severity = %s", failed.Severity)
	}

	cancelled := JobFinished("guild-1", "", "job-3", "scan", nil, true, nil)
	if cancelled.Severity != SeverityInfo || cancelled.Data["canceled"] != true {
		t.Errorf("cancelled event = %+v", cancelled)
	}
}
