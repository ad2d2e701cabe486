package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/mallkit/api/internal/domain"
	pfirestore "github.com/mallkit/api/internal/platform/firestore"
)

const (
	settingsCollection = "settings"
	bankingSettingsDoc = "banking"
)

// BankingSettingsRepository stores the wire-transfer destination account as a
// single settings document.
type BankingSettingsRepository struct {
	settings *pfirestore.Collection[bankingSettingsDocument]
}

// NewBankingSettingsRepository constructs a Firestore-backed settings repository.
func NewBankingSettingsRepository(provider *pfirestore.Provider) (*BankingSettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("banking settings repository requires firestore provider")
	}
	base := pfirestore.NewCollection[bankingSettingsDocument](provider, settingsCollection, nil, nil)
	return &BankingSettingsRepository{settings: base}, nil
}

// Get returns the configured destination account.
func (r *BankingSettingsRepository) Get(ctx context.Context) (domain.BankAccount, error) {
	if r == nil || r.settings == nil {
		return domain.BankAccount{}, errors.New("banking settings repository not initialised")
	}
	ref, err := r.settings.DocumentRef(ctx, bankingSettingsDoc)
	if err != nil {
		return domain.BankAccount{}, err
	}
	snap, err := getDocument(ctx, ref)
	if err != nil {
		return domain.BankAccount{}, pfirestore.WrapError("settings.banking.get", err)
	}
	var doc bankingSettingsDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.BankAccount{}, err
	}
	return doc.toDomain(), nil
}

// Put replaces the configured destination account.
func (r *BankingSettingsRepository) Put(ctx context.Context, account domain.BankAccount, now time.Time) error {
	if r == nil || r.settings == nil {
		return errors.New("banking settings repository not initialised")
	}
	ref, err := r.settings.DocumentRef(ctx, bankingSettingsDoc)
	if err != nil {
		return err
	}
	doc := bankingSettingsDocument{
		BankName:      account.BankName,
		AccountNumber: account.AccountNumber,
		Holder:        account.Holder,
		UpdatedAt:     now.UTC(),
	}
	if err := setDocument(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("settings.banking.put", err)
	}
	return nil
}

type bankingSettingsDocument struct {
	BankName      string    `firestore:"bankName"`
	AccountNumber string    `firestore:"accountNumber"`
	Holder        string    `firestore:"holder"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d bankingSettingsDocument) toDomain() domain.BankAccount {
	return domain.BankAccount{
		BankName:      d.BankName,
		AccountNumber: d.AccountNumber,
		Holder:        d.Holder,
	}
}
