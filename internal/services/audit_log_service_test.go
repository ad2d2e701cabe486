package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/repositories"
)

func saltedHash(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + value))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestAuditLogServiceRecordHashesSensitiveFields(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	occurred := now.Add(-5 * time.Minute)

	var appended domain.AuditLogEntry
	repo := &stubAuditLogRepository{
		appendFunc: func(_ context.Context, entry domain.AuditLogEntry) error {
			appended = entry
			return nil
		},
	}

	service, err := NewAuditLogService(AuditLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return now },
		IDGenerator: countingIDs(),
		HashSalt:    "pepper",
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	service.Record(ctx, AuditLogRecord{
		Actor:      "webhook:gateway",
		Action:     "banking.update",
		TargetRef:  "settings/banking",
		OccurredAt: occurred,
		Metadata: map[string]any{
			"accountNumber": "110-123-456789",
			"bankName":      "Shinhan",
		},
		Diff: map[string]AuditLogDiff{
			"accountNumber": {Before: "110-123-456789", After: "110-999-000000"},
			"holder":        {Before: "Mallkit Co.", After: "Mallkit Korea Co."},
		},
		SensitiveMetadataKeys: []string{"accountNumber"},
		SensitiveDiffKeys:     []string{"accountNumber"},
	})

	if !strings.HasPrefix(appended.ID, "aud_") {
		t.Fatalf("expected aud_ id prefix, got %s", appended.ID)
	}
	if !appended.CreatedAt.Equal(occurred) {
		t.Fatalf("expected createdAt from occurredAt, got %v", appended.CreatedAt)
	}
	if appended.ActorType != "system" {
		t.Fatalf("expected webhook actor inferred as system, got %s", appended.ActorType)
	}

	if appended.Metadata["accountNumber"] != saltedHash("pepper", "110-123-456789") {
		t.Fatalf("expected hashed metadata, got %v", appended.Metadata["accountNumber"])
	}
	if appended.Metadata["bankName"] != "Shinhan" {
		t.Fatalf("expected plain metadata preserved, got %v", appended.Metadata["bankName"])
	}

	accountDiff := appended.Diff["accountNumber"]
	if accountDiff.Before != saltedHash("pepper", "110-123-456789") {
		t.Fatalf("expected hashed diff before, got %v", accountDiff.Before)
	}
	if accountDiff.After != saltedHash("pepper", "110-999-000000") {
		t.Fatalf("expected hashed diff after, got %v", accountDiff.After)
	}
	holderDiff := appended.Diff["holder"]
	if holderDiff.Before != "Mallkit Co." || holderDiff.After != "Mallkit Korea Co." {
		t.Fatalf("expected plain diff preserved, got %#v", holderDiff)
	}
}

func TestAuditLogServiceRecordSwallowsAppendFailure(t *testing.T) {
	ctx := context.Background()

	repo := &stubAuditLogRepository{
		appendFunc: func(context.Context, domain.AuditLogEntry) error {
			return errors.New("sink unavailable")
		},
	}
	logger := &captureWarnLogger{}

	service, err := NewAuditLogService(AuditLogServiceDeps{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	service.Record(ctx, AuditLogRecord{
		Actor:  "/staff/op-1",
		Action: "orders.patch",
	})

	if len(logger.messages) != 1 {
		t.Fatalf("expected one warning, got %d", len(logger.messages))
	}
	if !strings.Contains(logger.messages[0], "sink unavailable") {
		t.Fatalf("expected warning to carry repository error, got %q", logger.messages[0])
	}
}

func TestNormalizeActorType(t *testing.T) {
	cases := []struct {
		actorType string
		actor     string
		want      string
	}{
		{"STAFF", "", "staff"},
		{"admin", "", "admin"},
		{"", "/users/user-1", "user"},
		{"", "user:abc", "user"},
		{"", "webhook:gateway", "system"},
		{"", "system:cron", "system"},
		{"", "someone", "unknown"},
		{"robot", "someone", "unknown"},
	}
	for _, tc := range cases {
		if got := normalizeActorType(tc.actorType, tc.actor); got != tc.want {
			t.Fatalf("normalizeActorType(%q, %q) = %q, want %q", tc.actorType, tc.actor, got, tc.want)
		}
	}
}

func TestAuditLogServiceListPassesFilter(t *testing.T) {
	ctx := context.Background()

	repo := &stubAuditLogRepository{
		listFunc: func(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
			if filter.TargetRef != "orders/ord_1" || filter.Action != "orders.patch" {
				return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("unexpected filter")
			}
			return domain.CursorPage[domain.AuditLogEntry]{
				Items: []domain.AuditLogEntry{{ID: "aud_1"}},
			}, nil
		},
	}

	service, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	page, err := service.List(ctx, AuditLogFilter{
		TargetRef: "  orders/ord_1  ",
		Action:    "orders.patch",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "aud_1" {
		t.Fatalf("unexpected page %#v", page)
	}
}
