// Package testutil holds the behavior suites shared by the memory, SQLite,
// PostgreSQL and Redis backends.
package testutil

import (
	"context"
	"testing"
	"time"

	"hydrofirma/internal/audit"
)

// AuditLoggerSuite runs the behavior every audit.Logger backend must share.
// newLogger must return an empty logger.
func AuditLoggerSuite(t *testing.T, newLogger func(t *testing.T) audit.Logger) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, l audit.Logger) {
		t.Helper()
		events := []*audit.Event{
			{Action: audit.ActionSignUp, ActorID: "u1", ActorEmail: "a@example.com", Timestamp: base},
			{Action: audit.ActionSignIn, ActorID: "u1", ActorEmail: "a@example.com", Timestamp: base.Add(time.Minute)},
			{
				Action:    audit.ActionRoleChange,
				ActorID:   "admin",
				TargetID:  "u1",
				Timestamp: base.Add(2 * time.Minute),
				Detail:    map[string]string{"from": "user", "to": "admin"},
			},
			{Action: audit.ActionProfileDelete, ActorID: "admin", TargetID: "u2", Timestamp: base.Add(3 * time.Minute)},
		}
		for _, e := range events {
			if err := l.Log(ctx, e); err != nil {
				t.Fatalf("Log %s: %v", e.Action, err)
			}
		}
	}

	t.Run("log assigns id and keeps fields", func(t *testing.T) {
		l := newLogger(t)
		e := &audit.Event{
			Action:     audit.ActionEmailChange,
			ActorID:    "u1",
			ActorEmail: "a@example.com",
			Detail:     map[string]string{"from": "a@example.com", "to": "b@example.com"},
			RequestID:  "req-1",
			IPAddress:  "192.0.2.1",
			Timestamp:  base,
		}
		if err := l.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
		if e.ID == "" {
			t.Fatal("expected an id")
		}
		got, total, err := l.List(ctx, audit.ListOptions{})
		if err != nil || total != 1 || len(got) != 1 {
			t.Fatalf("List: %d events, total %d, err %v", len(got), total, err)
		}
		g := got[0]
		if g.ID != e.ID || g.Action != audit.ActionEmailChange || g.ActorEmail != "a@example.com" ||
			g.RequestID != "req-1" || g.IPAddress != "192.0.2.1" || !g.Timestamp.Equal(base) {
			t.Errorf("unexpected event: %+v", g)
		}
		if g.Detail["to"] != "b@example.com" {
			t.Errorf("detail = %v", g.Detail)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		l := newLogger(t)
		seed(t, l)
		got, total, err := l.List(ctx, audit.ListOptions{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total != 4 || len(got) != 4 {
			t.Fatalf("total=%d len=%d, want 4", total, len(got))
		}
		if got[0].Action != audit.ActionProfileDelete || got[3].Action != audit.ActionSignUp {
			t.Errorf("order: first %s, last %s", got[0].Action, got[3].Action)
		}
	})

	t.Run("filters and paging", func(t *testing.T) {
		l := newLogger(t)
		seed(t, l)
		since := base.Add(90 * time.Second)
		tests := []struct {
			name      string
			opts      audit.ListOptions
			wantLen   int
			wantTotal int
		}{
			{"actor", audit.ListOptions{ActorID: "admin"}, 2, 2},
			{"target", audit.ListOptions{TargetID: "u1"}, 1, 1},
			{"action", audit.ListOptions{Action: audit.ActionSignIn}, 1, 1},
			{"since", audit.ListOptions{Since: &since}, 2, 2},
			{"limit", audit.ListOptions{Limit: 2}, 2, 4},
			{"offset", audit.ListOptions{Limit: 2, Offset: 3}, 1, 4},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, total, err := l.List(ctx, tt.opts)
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				if len(got) != tt.wantLen || total != tt.wantTotal {
					t.Errorf("len=%d total=%d, want %d/%d", len(got), total, tt.wantLen, tt.wantTotal)
				}
			})
		}
	})
}
