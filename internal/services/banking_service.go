package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mallkit/api/internal/repositories"
)

const bankingAuditActionUpdate = "banking.update"

var (
	// ErrBankingInvalidInput signals the caller provided invalid data.
	ErrBankingInvalidInput = errors.New("banking: invalid input")
	// ErrBankingNotFound indicates no destination account is configured.
	ErrBankingNotFound = errors.New("banking: not configured")
)

// BankingServiceDeps bundles collaborators required to construct the banking service.
type BankingServiceDeps struct {
	Settings repositories.BankingSettingsRepository
	Audit    AuditLogService
	Clock    func() time.Time
}

type bankingService struct {
	settings repositories.BankingSettingsRepository
	audit    AuditLogService
	clock    func() time.Time
}

// NewBankingService wires dependencies into a concrete BankingService implementation.
func NewBankingService(deps BankingServiceDeps) (BankingService, error) {
	if deps.Settings == nil {
		return nil, errors.New("banking service: settings repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &bankingService{
		settings: deps.Settings,
		audit:    deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *bankingService) GetAccount(ctx context.Context) (BankAccount, error) {
	account, err := s.settings.Get(ctx)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return BankAccount{}, fmt.Errorf("%w: %v", ErrBankingNotFound, err)
		}
		return BankAccount{}, err
	}
	return account, nil
}

// UpdateAccount replaces the configured destination account. Existing
// transfer requests keep the snapshot they froze at creation.
func (s *bankingService) UpdateAccount(ctx context.Context, cmd UpdateBankAccountCommand) (BankAccount, error) {
	account := BankAccount{
		BankName:      sanitizeFreeText(cmd.Account.BankName, 80),
		AccountNumber: strings.TrimSpace(cmd.Account.AccountNumber),
		Holder:        sanitizeFreeText(cmd.Account.Holder, 80),
	}
	if account.BankName == "" || account.AccountNumber == "" || account.Holder == "" {
		return BankAccount{}, fmt.Errorf("%w: bank name, account number, and holder are required", ErrBankingInvalidInput)
	}

	now := s.clock()

	previous, err := s.settings.Get(ctx)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return BankAccount{}, err
		}
		previous = BankAccount{}
	}

	if err := s.settings.Put(ctx, account, now); err != nil {
		return BankAccount{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:          cmd.Actor.ID,
			ActorType:      cmd.Actor.Type,
			Action:         bankingAuditActionUpdate,
			TargetRef:      "settings/banking",
			IdempotencyKey: cmd.IdempotencyKey,
			OccurredAt:     now,
			Diff: map[string]AuditLogDiff{
				"bankName":      {Before: previous.BankName, After: account.BankName},
				"accountNumber": {Before: previous.AccountNumber, After: account.AccountNumber},
				"holder":        {Before: previous.Holder, After: account.Holder},
			},
			SensitiveDiffKeys: []string{"accountNumber"},
		})
	}

	return account, nil
}
