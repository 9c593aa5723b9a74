package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/payment"
	"marketplace/internal/store"
	"marketplace/internal/wallet"
)

type CallbackGuard interface {
	Acquire(ctx context.Context, reference string) (bool, error)
	Release(ctx context.Context, reference string) error
}

// TransferService runs the deposit and withdrawal lifecycle:
// pending -> settled | rejected, terminal thereafter.
type TransferService struct {
	txRunner     db.TxRunner
	accountStore AccountStore
	txStore      TransactionStore
	auditStore   AuditStore
	wallet       Wallet
	provider     payment.Provider
	guard        CallbackGuard
	hub          BalanceHub
	kyc          KYCPolicy
	currency     string
	logger       logrus.FieldLogger
}

type TransferDeps struct {
	TxRunner     db.TxRunner
	AccountStore AccountStore
	TxStore      TransactionStore
	AuditStore   AuditStore
	Wallet       Wallet
	Provider     payment.Provider
	Guard        CallbackGuard
	Hub          BalanceHub
	KYC          KYCPolicy
	Currency     string
	Logger       logrus.FieldLogger
}

func NewTransferService(deps TransferDeps) *TransferService {
	return &TransferService{
		txRunner:     deps.TxRunner,
		accountStore: deps.AccountStore,
		txStore:      deps.TxStore,
		auditStore:   deps.AuditStore,
		wallet:       deps.Wallet,
		provider:     deps.Provider,
		guard:        deps.Guard,
		hub:          deps.Hub,
		kyc:          deps.KYC,
		currency:     deps.Currency,
		logger:       deps.Logger,
	}
}

type TransferRequest struct {
	UserID    string
	AccountID string
	Amount    int64
	Phone     string
	Method    string
}

// providerUnavailable is the reason recorded when the payment provider
// refuses a request outright.
const providerUnavailable = "payment provider unavailable"

type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "SUCCESS"
	CallbackFailed  CallbackStatus = "FAILED"
)

func ParseCallbackStatus(raw string) (CallbackStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "SUCCESSFUL", "SETTLED":
		return CallbackSuccess, nil
	case "FAILED", "FAILURE", "REJECTED", "CANCELLED":
		return CallbackFailed, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, raw)
}

type PaymentCallback struct {
	Reference string
	Amount    int64
	Status    CallbackStatus
}

// StateError carries the transaction as it stands when an operation is refused
// because the transaction already left pending.
type StateError struct {
	Err         error
	Transaction models.Transaction
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transaction %s is %s: %v", e.Transaction.ID, e.Transaction.Status, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func stateError(err error, t models.Transaction) error {
	return &StateError{Err: err, Transaction: t}
}

// InitiateDeposit records a pending deposit, then asks the provider to
// collect the funds and attaches the returned reference. No balance moves
// until confirmation. A refused provider request rejects the deposit.
func (s *TransferService) InitiateDeposit(ctx context.Context, req TransferRequest) (models.Transaction, error) {
	phone, method, err := s.prepare(ctx, req, OpDeposit)
	if err != nil {
		return models.Transaction{}, err
	}

	deposit := models.Transaction{
		ID:            uuid.NewString(),
		AccountID:     req.AccountID,
		Kind:          models.KindDeposit,
		Status:        models.StatusPending,
		Amount:        req.Amount,
		PaymentMethod: stringPtr(string(method)),
		Phone:         &phone,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.txStore.Create(ctx, tx, deposit); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, req.UserID, "deposit.initiate", store.EntityTransaction, deposit.ID, map[string]any{
			"amount": req.Amount,
		})
	})
	if err != nil {
		return models.Transaction{}, err
	}

	reference, err := s.provider.InitiatePayment(ctx, payment.Request{
		Direction: payment.Collect,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Currency:  s.currency,
		Phone:     phone,
		Method:    method,
	})
	if err != nil {
		s.logger.WithError(err).WithField("transaction_id", deposit.ID).Warn("collection request failed, rejecting deposit")
		if _, rejectErr := s.RejectTransaction(ctx, deposit.ID, providerUnavailable, ""); rejectErr != nil {
			s.logger.WithError(rejectErr).WithField("transaction_id", deposit.ID).Error("reject after provider failure failed")
		}
		return models.Transaction{}, fmt.Errorf("initiate deposit: %w", err)
	}
	s.attachReference(ctx, req.UserID, &deposit, reference)
	s.logger.WithFields(logrus.Fields{"account_id": req.AccountID, "reference": reference}).Info("deposit initiated")
	return deposit, nil
}

// ConfirmDeposit credits a pending deposit and settles it.
func (s *TransferService) ConfirmDeposit(ctx context.Context, transactionID, actorID string) (models.Transaction, error) {
	var settled models.Transaction
	var balance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.txStore.GetForUpdate(ctx, tx, transactionID)
		if err != nil {
			return notFound(err, "transaction")
		}
		if current.Kind != models.KindDeposit {
			return fmt.Errorf("%w: transaction is a %s", ErrInvalidState, current.Kind)
		}
		if current.Status != models.StatusPending {
			return stateError(ErrAlreadyProcessed, current)
		}
		balance, settled, err = s.settleDeposit(ctx, tx, current)
		if err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, actorID, "deposit.confirm", store.EntityTransaction, current.ID, map[string]any{
			"amount": current.Amount,
		})
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.pushBalance(settled.AccountID, balance)
	return settled, nil
}

// InitiateWithdrawal escrows the amount immediately and records a pending
// withdrawal. A refused provider request refunds and rejects it.
func (s *TransferService) InitiateWithdrawal(ctx context.Context, req TransferRequest) (models.Transaction, error) {
	phone, method, err := s.prepare(ctx, req, OpWithdraw)
	if err != nil {
		return models.Transaction{}, err
	}

	withdrawal := models.Transaction{
		ID:            uuid.NewString(),
		AccountID:     req.AccountID,
		Kind:          models.KindWithdrawal,
		Status:        models.StatusPending,
		Amount:        req.Amount,
		PaymentMethod: stringPtr(string(method)),
		Phone:         &phone,
	}
	var balance int64
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		balance, err = s.wallet.Debit(ctx, tx, req.AccountID, req.Amount, wallet.Entry{
			TransactionID: withdrawal.ID,
			Description:   "withdrawal escrow",
		})
		if err != nil {
			return err
		}
		if err := s.txStore.Create(ctx, tx, withdrawal); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, req.UserID, "withdrawal.initiate", store.EntityTransaction, withdrawal.ID, map[string]any{
			"amount": req.Amount,
		})
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.pushBalance(req.AccountID, balance)

	reference, err := s.provider.InitiatePayment(ctx, payment.Request{
		Direction: payment.Disburse,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Currency:  s.currency,
		Phone:     phone,
		Method:    method,
	})
	if err != nil {
		s.logger.WithError(err).WithField("transaction_id", withdrawal.ID).Warn("disbursement request failed, refunding")
		if _, rejectErr := s.RejectWithdrawal(ctx, withdrawal.ID, providerUnavailable, ""); rejectErr != nil {
			s.logger.WithError(rejectErr).WithField("transaction_id", withdrawal.ID).Error("refund after provider failure failed")
		}
		return models.Transaction{}, fmt.Errorf("initiate withdrawal: %w", err)
	}
	s.attachReference(ctx, req.UserID, &withdrawal, reference)
	return withdrawal, nil
}

// ApproveWithdrawal settles an escrowed withdrawal. The money already left
// the balance at request time.
func (s *TransferService) ApproveWithdrawal(ctx context.Context, transactionID, actorID string) (models.Transaction, error) {
	var settled models.Transaction
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.lockWithdrawal(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if err := s.resolve(ctx, tx, current.ID, models.StatusSettled, nil); err != nil {
			return err
		}
		settled = current
		settled.Status = models.StatusSettled
		return s.auditStore.Log(ctx, tx, actorID, "withdrawal.approve", store.EntityTransaction, current.ID, nil)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return settled, nil
}

// RejectWithdrawal refunds the escrowed amount and records the reason.
func (s *TransferService) RejectWithdrawal(ctx context.Context, transactionID, reason, actorID string) (models.Transaction, error) {
	var rejected models.Transaction
	var balance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.lockWithdrawal(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		balance, rejected, err = s.refundWithdrawal(ctx, tx, current, reason)
		if err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, actorID, "withdrawal.reject", store.EntityTransaction, current.ID, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.pushBalance(rejected.AccountID, balance)
	return rejected, nil
}

// PaymentConfirmed applies a provider callback. Deliveries are keyed by the
// external reference; only a pending transaction is acted on, so a replay is
// reported as already processed and changes nothing. A delivery that arrives
// while another one for the same reference holds the guard gets ErrInFlight
// and should be retried.
func (s *TransferService) PaymentConfirmed(ctx context.Context, cb PaymentCallback) (models.Transaction, error) {
	log := s.logger.WithField("reference", cb.Reference)
	if cb.Reference == "" {
		return models.Transaction{}, fmt.Errorf("%w: missing reference", ErrInvalidInput)
	}
	if s.guard != nil {
		acquired, err := s.guard.Acquire(ctx, cb.Reference)
		if err != nil {
			log.WithError(err).Warn("callback guard unavailable, relying on row lock")
		} else if !acquired {
			return models.Transaction{}, fmt.Errorf("%w: callback for %s is being applied", ErrInFlight, cb.Reference)
		} else {
			defer func() {
				if err := s.guard.Release(context.WithoutCancel(ctx), cb.Reference); err != nil {
					log.WithError(err).Warn("release callback guard")
				}
			}()
		}
	}

	var result models.Transaction
	var balance int64
	var balanceChanged bool
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		balanceChanged = false
		current, err := s.txStore.GetByReferenceForUpdate(ctx, tx, cb.Reference)
		if err != nil {
			return notFound(err, "transaction")
		}
		if current.Status != models.StatusPending {
			return stateError(ErrAlreadyProcessed, current)
		}
		if cb.Amount != current.Amount {
			return fmt.Errorf("%w: callback amount %d does not match %d", ErrInvalidState, cb.Amount, current.Amount)
		}
		switch {
		case current.Kind == models.KindDeposit && cb.Status == CallbackSuccess:
			balance, result, err = s.settleDeposit(ctx, tx, current)
			balanceChanged = true
		case current.Kind == models.KindDeposit && cb.Status == CallbackFailed:
			result, err = s.rejectPending(ctx, tx, current, "payment failed")
		case current.Kind == models.KindWithdrawal && cb.Status == CallbackSuccess:
			err = s.resolve(ctx, tx, current.ID, models.StatusSettled, nil)
			result = current
			result.Status = models.StatusSettled
		case current.Kind == models.KindWithdrawal && cb.Status == CallbackFailed:
			balance, result, err = s.refundWithdrawal(ctx, tx, current, "payment failed")
			balanceChanged = true
		default:
			return fmt.Errorf("%w: no callback handling for %s", ErrInvalidState, current.Kind)
		}
		if err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, "", "payment.callback", store.EntityTransaction, current.ID, map[string]any{
			"reference": cb.Reference,
			"status":    string(cb.Status),
		})
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			log.Info("duplicate payment callback ignored")
		}
		return models.Transaction{}, err
	}
	log.WithField("status", result.Status).Info("payment callback applied")
	if balanceChanged {
		s.pushBalance(result.AccountID, balance)
	}
	return result, nil
}

// ApproveTransaction is the admin entry point for any pending transfer.
func (s *TransferService) ApproveTransaction(ctx context.Context, transactionID, actorID string) (models.Transaction, error) {
	current, err := s.txStore.GetByID(ctx, transactionID)
	if err != nil {
		return models.Transaction{}, notFound(err, "transaction")
	}
	switch current.Kind {
	case models.KindDeposit:
		return s.ConfirmDeposit(ctx, transactionID, actorID)
	case models.KindWithdrawal:
		return s.ApproveWithdrawal(ctx, transactionID, actorID)
	}
	return models.Transaction{}, fmt.Errorf("%w: %s transactions settle immediately", ErrInvalidState, current.Kind)
}

func (s *TransferService) RejectTransaction(ctx context.Context, transactionID, reason, actorID string) (models.Transaction, error) {
	current, err := s.txStore.GetByID(ctx, transactionID)
	if err != nil {
		return models.Transaction{}, notFound(err, "transaction")
	}
	switch current.Kind {
	case models.KindDeposit:
		var rejected models.Transaction
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			locked, err := s.txStore.GetForUpdate(ctx, tx, transactionID)
			if err != nil {
				return notFound(err, "transaction")
			}
			if locked.Status != models.StatusPending {
				return stateError(ErrInvalidState, locked)
			}
			rejected, err = s.rejectPending(ctx, tx, locked, reason)
			if err != nil {
				return err
			}
			return s.auditStore.Log(ctx, tx, actorID, "deposit.reject", store.EntityTransaction, locked.ID, map[string]any{
				"reason": reason,
			})
		})
		if err != nil {
			return models.Transaction{}, err
		}
		return rejected, nil
	case models.KindWithdrawal:
		return s.RejectWithdrawal(ctx, transactionID, reason, actorID)
	}
	return models.Transaction{}, fmt.Errorf("%w: %s transactions settle immediately", ErrInvalidState, current.Kind)
}

func (s *TransferService) prepare(ctx context.Context, req TransferRequest, operation string) (string, payment.Method, error) {
	if req.Amount <= 0 {
		return "", "", ErrInvalidAmount
	}
	phone, err := payment.NormalizePhone(req.Phone)
	if err != nil {
		return "", "", invalidInput(err)
	}
	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		return "", "", invalidInput(err)
	}
	account, err := s.accountStore.GetByID(ctx, req.AccountID)
	if err != nil {
		return "", "", notFound(err, "account")
	}
	if s.kyc != nil && s.kyc.KYCRequired(operation) && account.KYCStatus != models.KYCApproved {
		return "", "", ErrKycRequired
	}
	return phone, method, nil
}

func (s *TransferService) lockWithdrawal(ctx context.Context, tx store.Getter, transactionID string) (models.Transaction, error) {
	current, err := s.txStore.GetForUpdate(ctx, tx, transactionID)
	if err != nil {
		return models.Transaction{}, notFound(err, "transaction")
	}
	if current.Kind != models.KindWithdrawal {
		return models.Transaction{}, fmt.Errorf("%w: transaction is a %s", ErrInvalidState, current.Kind)
	}
	if current.Status != models.StatusPending {
		return models.Transaction{}, stateError(ErrInvalidState, current)
	}
	return current, nil
}

func (s *TransferService) settleDeposit(ctx context.Context, tx *sqlx.Tx, current models.Transaction) (int64, models.Transaction, error) {
	balance, err := s.wallet.Credit(ctx, tx, current.AccountID, current.Amount, wallet.Entry{
		TransactionID: current.ID,
		Description:   "deposit",
	})
	if err != nil {
		return 0, models.Transaction{}, err
	}
	if err := s.resolve(ctx, tx, current.ID, models.StatusSettled, nil); err != nil {
		return 0, models.Transaction{}, err
	}
	current.Status = models.StatusSettled
	return balance, current, nil
}

func (s *TransferService) refundWithdrawal(ctx context.Context, tx *sqlx.Tx, current models.Transaction, reason string) (int64, models.Transaction, error) {
	balance, err := s.wallet.Credit(ctx, tx, current.AccountID, current.Amount, wallet.Entry{
		TransactionID: current.ID,
		Description:   "withdrawal refund",
	})
	if err != nil {
		return 0, models.Transaction{}, err
	}
	rejected, err := s.rejectPending(ctx, tx, current, reason)
	if err != nil {
		return 0, models.Transaction{}, err
	}
	return balance, rejected, nil
}

func (s *TransferService) rejectPending(ctx context.Context, tx *sqlx.Tx, current models.Transaction, reason string) (models.Transaction, error) {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := s.resolve(ctx, tx, current.ID, models.StatusRejected, reasonPtr); err != nil {
		return models.Transaction{}, err
	}
	current.Status = models.StatusRejected
	if reasonPtr != nil {
		current.Reason = reasonPtr
	}
	return current, nil
}

// attachReference stores the provider reference on a pending transaction.
// When that fails the transaction stays pending without a reference, so the
// reference is kept in a "<kind>.reference_unrecorded" audit row for an admin
// to match the provider's callback by hand.
func (s *TransferService) attachReference(ctx context.Context, actorID string, t *models.Transaction, reference string) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := s.txStore.SetReference(ctx, tx, t.ID, reference)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: transaction %s is no longer pending", ErrInvalidState, t.ID)
		}
		return nil
	})
	if err == nil {
		t.ExternalReference = &reference
		return
	}
	log := s.logger.WithFields(logrus.Fields{"transaction_id": t.ID, "reference": reference})
	log.WithError(err).Error("store provider reference")

	detached := context.WithoutCancel(ctx)
	auditErr := s.txRunner.WithTx(detached, func(tx *sqlx.Tx) error {
		return s.auditStore.Log(detached, tx, actorID, string(t.Kind)+".reference_unrecorded", store.EntityTransaction, t.ID, map[string]any{
			"reference": reference,
			"amount":    t.Amount,
			"error":     err.Error(),
		})
	})
	if auditErr != nil {
		log.WithError(auditErr).Error("audit unrecorded provider reference")
	}
}

// resolve leaves pending exactly once; losing that race is an invalid state.
func (s *TransferService) resolve(ctx context.Context, tx store.Execer, transactionID string, status models.TransactionStatus, reason *string) error {
	rows, err := s.txStore.Resolve(ctx, tx, transactionID, status, reason)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: transaction %s is no longer pending", ErrInvalidState, transactionID)
	}
	return nil
}

func (s *TransferService) pushBalance(accountID string, balance int64) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastBalance(accountID, balanceUpdate(accountID, balance, s.currency))
}
