package provider

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietstay/payment-service/internal/domain"
)

// BankingConfig holds the receiving account details shown to the payer
type BankingConfig struct {
	CodePrefix    string
	BankName      string
	AccountNumber string
	AccountName   string
}

// Banking handles manual bank transfers. There is no gateway: CreateOrder
// mints a transfer code the payer puts in the wire memo, and confirmation
// arrives through an internal operator endpoint that matches code and
// amount. That endpoint is network-restricted at deploy time, which is why
// the confirm payload carries no HMAC.
type Banking struct {
	cfg BankingConfig
	now func() time.Time
}

func NewBanking(cfg BankingConfig) *Banking {
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "VSTAY"
	}
	return &Banking{cfg: cfg, now: time.Now}
}

func (b *Banking) Name() domain.Provider {
	return domain.ProviderBanking
}

const transferCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newTransferCode returns "<PREFIX><8 chars>" from an unambiguous alphabet
func (b *Banking) newTransferCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate transfer code: %w", err)
	}
	for i := range buf {
		buf[i] = transferCodeAlphabet[int(buf[i])%len(transferCodeAlphabet)]
	}
	return b.cfg.CodePrefix + string(buf), nil
}

// CreateOrder mints a transfer code; no network round trip.
func (b *Banking) CreateOrder(_ context.Context, _ *OrderRequest) (*OrderResponse, error) {
	code, err := b.newTransferCode()
	if err != nil {
		return nil, err
	}
	return &OrderResponse{TransferCode: code}, nil
}

// BankTransferConfirmation is the internal confirm payload
type BankTransferConfirmation struct {
	TransferCode  string `json:"transfer_code"`
	Amount        int64  `json:"amount"`
	BankReference string `json:"bank_reference"`
	ConfirmedAt   int64  `json:"confirmed_at,omitempty"`
}

// ParseCallback normalizes an operator confirmation. Matching the code and
// amount against the stored order happens during reconciliation.
func (b *Banking) ParseCallback(raw []byte) (*domain.NormalizedOutcome, error) {
	var conf BankTransferConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("parse banking confirmation: %w", err)
	}
	if conf.TransferCode == "" {
		return nil, fmt.Errorf("banking confirmation missing transfer_code")
	}
	if conf.BankReference == "" {
		return nil, fmt.Errorf("banking confirmation missing bank_reference")
	}
	if conf.Amount <= 0 {
		return nil, fmt.Errorf("banking confirmation amount must be positive")
	}

	tsMillis := conf.ConfirmedAt
	if tsMillis == 0 {
		tsMillis = b.now().UnixMilli()
	}

	return &domain.NormalizedOutcome{
		Provider:              domain.ProviderBanking,
		ProviderTransactionID: conf.BankReference,
		Amount:                conf.Amount,
		ResultCode:            "0",
		Succeeded:             true,
		TimestampMillis:       tsMillis,
		TransferCode:          conf.TransferCode,
	}, nil
}
