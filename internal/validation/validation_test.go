package validation

import (
	"errors"
	"testing"

	"github.com/hyperengineering/shipyard/internal/types"
)

func validRawProject() types.RawProject {
	return types.RawProject{
		ID: 1, Title: "Weather Station", SlackID: "U001",
		CreatedAt: "2026-01-10T08:00:00Z", UpdatedAt: "2026-01-10T08:00:00Z",
	}
}

func TestProject(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.RawProject)
		wantErr bool
	}{
		{"valid", func(p *types.RawProject) {}, false},
		{"zero id", func(p *types.RawProject) { p.ID = 0 }, true},
		{"negative id", func(p *types.RawProject) { p.ID = -5 }, true},
		{"empty title", func(p *types.RawProject) { p.Title = "" }, true},
		{"invalid utf8 title", func(p *types.RawProject) { p.Title = string([]byte{0xff, 0xfe}) }, true},
		{"empty slack id", func(p *types.RawProject) { p.SlackID = "" }, true},
		{"bad created_at", func(p *types.RawProject) { p.CreatedAt = "yesterday" }, true},
		{"empty updated_at", func(p *types.RawProject) { p.UpdatedAt = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validRawProject()
			tt.mutate(&p)
			err := Project(p)
			if (err != nil) != tt.wantErr {
				t.Errorf("Project() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDevLog(t *testing.T) {
	valid := types.RawDevLog{
		ID: 10, Text: "entry", ProjectID: 1, SlackID: "U001",
		CreatedAt: "2026-01-10T08:00:00Z", UpdatedAt: "2026-01-10T08:00:00Z",
	}

	if err := DevLog(valid); err != nil {
		t.Errorf("Expected valid devlog, got %v", err)
	}

	bad := valid
	bad.ProjectID = 0
	if err := DevLog(bad); err == nil {
		t.Error("Expected error for zero project_id")
	}

	bad = valid
	bad.Text = ""
	if err := DevLog(bad); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestComment(t *testing.T) {
	valid := types.RawComment{
		Text: "nice", DevlogID: 10, SlackID: "U002", CreatedAt: "2026-01-10T08:00:00Z",
	}

	if err := Comment(valid); err != nil {
		t.Errorf("Expected valid comment, got %v", err)
	}

	bad := valid
	bad.DevlogID = -1
	if err := Comment(bad); err == nil {
		t.Error("Expected error for negative devlog_id")
	}
}

func TestUser(t *testing.T) {
	name := "heidi"
	if err := User(types.RawUser{SlackID: "U1", Username: &name, TrustLevel: "blue", TrustValue: 3}); err != nil {
		t.Errorf("Expected valid profile, got %v", err)
	}
	if err := User(types.RawUser{SlackID: "U1"}); err != nil {
		t.Errorf("Expected bare profile valid, got %v", err)
	}
	if err := User(types.RawUser{SlackID: ""}); err == nil {
		t.Error("Expected error for empty slack_id")
	}
	garbled := string([]byte{0xff, 0xfe})
	if err := User(types.RawUser{SlackID: "U1", Username: &garbled}); err == nil {
		t.Error("Expected error for invalid UTF-8 username")
	}
	if err := User(types.RawUser{SlackID: "U1", TrustValue: -1}); err == nil {
		t.Error("Expected error for negative trust_value")
	}
}

func TestLeaderboardUser(t *testing.T) {
	if err := LeaderboardUser(types.RawLeaderboardUser{SlackID: "U1", Shells: 0}); err != nil {
		t.Errorf("Expected zero shells valid, got %v", err)
	}
	if err := LeaderboardUser(types.RawLeaderboardUser{SlackID: "", Shells: 5}); err == nil {
		t.Error("Expected error for empty slack_id")
	}
	if err := LeaderboardUser(types.RawLeaderboardUser{SlackID: "U1", Shells: -1}); err == nil {
		t.Error("Expected error for negative shells")
	}
}

func TestRecordError_Message(t *testing.T) {
	err := Project(types.RawProject{})
	var re *RecordError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RecordError, got %T", err)
	}
	if re.Field == "" || re.Message == "" {
		t.Errorf("Expected populated field and message, got %+v", re)
	}
}
