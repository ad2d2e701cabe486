package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mallkit/api/internal/domain"
)

func TestBankingServiceGetAccountNotConfigured(t *testing.T) {
	ctx := context.Background()

	settings := &stubBankingSettingsRepository{
		getFunc: func(context.Context) (domain.BankAccount, error) {
			return domain.BankAccount{}, errStubNotFound
		},
	}
	service, err := NewBankingService(BankingServiceDeps{Settings: settings})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.GetAccount(ctx)
	if !errors.Is(err, ErrBankingNotFound) {
		t.Fatalf("expected ErrBankingNotFound, got %v", err)
	}
}

func TestBankingServiceUpdateAccountAuditsWithHashedNumber(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 7, 2, 10, 0, 0, 0, time.UTC)

	var stored domain.BankAccount
	settings := &stubBankingSettingsRepository{
		getFunc: func(context.Context) (domain.BankAccount, error) {
			return domain.BankAccount{
				BankName:      "Shinhan",
				AccountNumber: "110-123-456789",
				Holder:        "Mallkit Co.",
			}, nil
		},
		putFunc: func(_ context.Context, account domain.BankAccount, putAt time.Time) error {
			if !putAt.Equal(now) {
				t.Fatalf("expected put timestamp %v, got %v", now, putAt)
			}
			stored = account
			return nil
		},
	}
	audit := &recordingAuditService{}

	service, err := NewBankingService(BankingServiceDeps{
		Settings: settings,
		Audit:    audit,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	account, err := service.UpdateAccount(ctx, UpdateBankAccountCommand{
		Account: domain.BankAccount{
			BankName:      "  Kookmin  ",
			AccountNumber: " 004-321-987654 ",
			Holder:        "<b>Mallkit Korea Co.</b>",
		},
		Actor:          Actor{ID: "/staff/op-1", Type: "staff"},
		IdempotencyKey: "key-banking-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if account.BankName != "Kookmin" || account.AccountNumber != "004-321-987654" {
		t.Fatalf("expected trimmed account fields, got %#v", account)
	}
	if account.Holder != "Mallkit Korea Co." {
		t.Fatalf("expected holder markup stripped, got %q", account.Holder)
	}
	if stored != account {
		t.Fatalf("expected persisted account %#v, got %#v", account, stored)
	}

	records := audit.all()
	if len(records) != 1 || records[0].Action != "banking.update" {
		t.Fatalf("expected one banking.update audit record, got %#v", records)
	}
	record := records[0]
	if record.Diff["accountNumber"].Before != "110-123-456789" || record.Diff["accountNumber"].After != "004-321-987654" {
		t.Fatalf("unexpected account diff %#v", record.Diff["accountNumber"])
	}
	if len(record.SensitiveDiffKeys) != 1 || record.SensitiveDiffKeys[0] != "accountNumber" {
		t.Fatalf("expected accountNumber flagged sensitive, got %#v", record.SensitiveDiffKeys)
	}
}

func TestBankingServiceUpdateAccountRequiresAllFields(t *testing.T) {
	ctx := context.Background()

	service, err := NewBankingService(BankingServiceDeps{
		Settings: &stubBankingSettingsRepository{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.UpdateAccount(ctx, UpdateBankAccountCommand{
		Account: domain.BankAccount{BankName: "Shinhan"},
	})
	if !errors.Is(err, ErrBankingInvalidInput) {
		t.Fatalf("expected ErrBankingInvalidInput, got %v", err)
	}
}

func TestBankingServiceUpdateAccountFirstWrite(t *testing.T) {
	ctx := context.Background()

	settings := &stubBankingSettingsRepository{
		getFunc: func(context.Context) (domain.BankAccount, error) {
			return domain.BankAccount{}, errStubNotFound
		},
		putFunc: func(context.Context, domain.BankAccount, time.Time) error {
			return nil
		},
	}
	audit := &recordingAuditService{}

	service, err := NewBankingService(BankingServiceDeps{Settings: settings, Audit: audit})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.UpdateAccount(ctx, UpdateBankAccountCommand{
		Account: domain.BankAccount{
			BankName:      "Shinhan",
			AccountNumber: "110-123-456789",
			Holder:        "Mallkit Co.",
		},
	})
	if err != nil {
		t.Fatalf("expected missing previous account to be tolerated, got %v", err)
	}

	records := audit.all()
	if len(records) != 1 || records[0].Diff["bankName"].Before != "" {
		t.Fatalf("expected empty before values on first write, got %#v", records)
	}
}
