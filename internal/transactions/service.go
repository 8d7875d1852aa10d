package transactions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/pagination"
)

// Service defines the transaction ledger operations.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*models.Transaction, error)
	UpdateStatusByOrderRef(ctx context.Context, orderRef string, status enums.TransactionStatus) (bool, error)
	RecordSuccess(ctx context.Context, orderRef, gatewayTransactionNo string) (*RecordSuccessResult, error)
	ListForUser(ctx context.Context, params ListParams) (*ListResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// bookingConfirmer is the slice of the booking service the ledger needs.
type bookingConfirmer interface {
	Confirm(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
}

type service struct {
	tx        txRunner
	repo      Repository
	confirmer bookingConfirmer
	logg      *logger.Logger
}

// CreateInput describes a new ledger entry.
type CreateInput struct {
	BookingID       uuid.UUID
	UserID          uuid.UUID
	Amount          int64
	Type            enums.TransactionType
	Status          enums.TransactionStatus
	GatewayOrderRef string
	Description     string
}

// RecordSuccessResult reports whether a callback was freshly applied or was a
// duplicate of an already-settled transaction.
type RecordSuccessResult struct {
	Transaction      *models.Transaction
	AlreadyProcessed bool
}

// ListParams filters the per-user transaction listing.
type ListParams struct {
	UserID uuid.UUID
	From   *time.Time
	To     *time.Time
	Status *enums.TransactionStatus
	Type   *enums.TransactionType
	Limit  int
	Cursor string
}

// ListSummary totals the listed page using exact decimal arithmetic.
type ListSummary struct {
	DepositTotal decimal.Decimal `json:"deposit_total"`
	RefundTotal  decimal.Decimal `json:"refund_total"`
}

// ListResult wraps returned transactions, their summary, and the next-page cursor.
type ListResult struct {
	Items   []models.Transaction `json:"items"`
	Summary ListSummary          `json:"summary"`
	Cursor  string               `json:"cursor"`
}

// NewService wires ledger dependencies.
func NewService(tx txRunner, repo Repository, confirmer bookingConfirmer, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transactions repository required")
	}
	if confirmer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "booking confirmer required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{tx: tx, repo: repo, confirmer: confirmer, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, in CreateInput) (*models.Transaction, error) {
	if in.BookingID == uuid.Nil || in.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id and user id required")
	}
	if in.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "transaction amount must be positive")
	}
	if in.GatewayOrderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order ref required")
	}

	txType := in.Type
	if txType == "" {
		txType = enums.TransactionTypeDeposit
	}
	status := in.Status
	if status == "" {
		status = enums.TransactionStatusPending
	}

	transaction := &models.Transaction{
		BookingID:       in.BookingID,
		UserID:          in.UserID,
		Amount:          in.Amount,
		Status:          status,
		Type:            txType,
		GatewayOrderRef: in.GatewayOrderRef,
		Description:     in.Description,
	}
	if err := s.repo.Create(ctx, transaction); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return transaction, nil
}

// UpdateStatusByOrderRef moves the transaction for an order ref to the given
// status under the same row lock RecordSuccess takes. A transaction that
// already settled (SUCCESS or REFUNDED) is left untouched; the returned flag
// reports whether the write was applied.
func (s *service) UpdateStatusByOrderRef(ctx context.Context, orderRef string, status enums.TransactionStatus) (bool, error) {
	if !status.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction status")
	}

	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		transaction, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if transaction == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		switch transaction.Status {
		case enums.TransactionStatusSuccess, enums.TransactionStatusRefunded:
			return nil
		}
		if err := repo.UpdateStatus(ctx, transaction.ID, status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// RecordSuccess applies a verified successful payment callback. The row lock on
// the order ref makes the first callback the only writer: every later delivery
// of the same confirmation observes SUCCESS and returns without side effects.
func (s *service) RecordSuccess(ctx context.Context, orderRef, gatewayTransactionNo string) (*RecordSuccessResult, error) {
	var result RecordSuccessResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		transaction, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if transaction == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if transaction.Status == enums.TransactionStatusSuccess {
			result = RecordSuccessResult{Transaction: transaction, AlreadyProcessed: true}
			return nil
		}

		if err := repo.MarkSuccess(ctx, transaction.ID, gatewayTransactionNo); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction success")
		}
		transaction.Status = enums.TransactionStatusSuccess
		transaction.GatewayTransactionNo = &gatewayTransactionNo

		if err := s.confirmer.Confirm(ctx, tx, transaction.BookingID); err != nil {
			return err
		}

		result = RecordSuccessResult{Transaction: transaction}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_ref":         orderRef,
		"already_processed": result.AlreadyProcessed,
	})
	s.logg.Info(ctx, "payment success recorded")
	return &result, nil
}

func (s *service) ListForUser(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if params.From != nil && params.To != nil && params.To.Before(*params.From) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date range end precedes start")
	}

	query := ListTransactionsParams{
		UserID: params.UserID,
		From:   params.From,
		To:     params.To,
		Status: params.Status,
		Type:   params.Type,
		Limit:  params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	summary := ListSummary{
		DepositTotal: decimal.Zero,
		RefundTotal:  decimal.Zero,
	}
	for _, row := range rows {
		amount := decimal.NewFromInt(row.Amount)
		switch row.Type {
		case enums.TransactionTypeDeposit:
			if row.Status == enums.TransactionStatusSuccess {
				summary.DepositTotal = summary.DepositTotal.Add(amount)
			}
		case enums.TransactionTypeRefund:
			if row.Status == enums.TransactionStatusRefunded || row.Status == enums.TransactionStatusSuccess {
				summary.RefundTotal = summary.RefundTotal.Add(amount)
			}
		}
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Summary: summary, Cursor: cursor}, nil
}

// OrderRef builds the merchant order reference sent to the gateway for a
// booking deposit.
func OrderRef(bookingID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("BK%s_%d", shortID(bookingID), now.Unix())
}

// RefundOrderRef builds the merchant reference for a dispute refund.
func RefundOrderRef(disputeID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("RF%s_%d", shortID(disputeID), now.Unix())
}

func shortID(id uuid.UUID) string {
	raw := id.String()
	return raw[:8]
}
