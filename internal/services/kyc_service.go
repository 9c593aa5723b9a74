package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/store"
)

var documentTypes = map[string]bool{"CNI": true, "PASSEPORT": true}

type KYCStore interface {
	Create(ctx context.Context, tx store.Execer, sub models.KYCSubmission) error
	GetForUpdate(ctx context.Context, tx store.Getter, submissionID string) (models.KYCSubmission, error)
	ListByStatus(ctx context.Context, status models.KYCSubmissionStatus, limit, offset int) ([]models.KYCSubmission, error)
	Review(ctx context.Context, tx store.Execer, submissionID string, status models.KYCSubmissionStatus, reviewerID string, note *string) (int64, error)
}

type KYCAccountStore interface {
	AccountStore
	SetKYCStatus(ctx context.Context, tx store.Execer, accountID string, status models.KYCStatus) error
}

type KYCService struct {
	txRunner   db.TxRunner
	accounts   KYCAccountStore
	kycStore   KYCStore
	auditStore AuditStore
	logger     logrus.FieldLogger
}

func NewKYCService(txRunner db.TxRunner, accounts KYCAccountStore, kycStore KYCStore, auditStore AuditStore, logger logrus.FieldLogger) *KYCService {
	return &KYCService{txRunner: txRunner, accounts: accounts, kycStore: kycStore, auditStore: auditStore, logger: logger}
}

type KYCRequest struct {
	UserID         string
	AccountID      string
	FullName       string
	Country        string
	DocumentType   string
	DocumentNumber string
}

// Submit files identity details for review and marks the account pending.
func (s *KYCService) Submit(ctx context.Context, req KYCRequest) (models.KYCSubmission, error) {
	docType := strings.ToUpper(strings.TrimSpace(req.DocumentType))
	if !documentTypes[docType] {
		return models.KYCSubmission{}, fmt.Errorf("%w: document type must be CNI or PASSEPORT", ErrInvalidInput)
	}
	sub := models.KYCSubmission{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		FullName:       strings.TrimSpace(req.FullName),
		Country:        strings.ToUpper(strings.TrimSpace(req.Country)),
		DocumentType:   docType,
		DocumentNumber: strings.TrimSpace(req.DocumentNumber),
		Status:         models.SubmissionPending,
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID)
		if err != nil {
			return notFound(err, "account")
		}
		switch account.KYCStatus {
		case models.KYCApproved:
			return fmt.Errorf("kyc: %w", ErrAlreadyProcessed)
		case models.KYCPending:
			return fmt.Errorf("%w: a submission is already under review", ErrInvalidState)
		}
		if err := s.kycStore.Create(ctx, tx, sub); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: a submission is already under review", ErrInvalidState)
			}
			return err
		}
		if err := s.accounts.SetKYCStatus(ctx, tx, req.AccountID, models.KYCPending); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, req.UserID, "kyc.submit", store.EntityKYC, sub.ID, map[string]any{
			"document_type": docType,
		})
	})
	if err != nil {
		return models.KYCSubmission{}, err
	}
	return sub, nil
}

// Review approves or rejects a pending submission. A rejected account drops
// back to unverified so the user can submit again.
func (s *KYCService) Review(ctx context.Context, submissionID string, approve bool, note, reviewerID string) (models.KYCSubmission, error) {
	status, accountStatus := models.SubmissionRejected, models.KYCUnverified
	if approve {
		status, accountStatus = models.SubmissionApproved, models.KYCApproved
	}
	var notePtr *string
	if note = strings.TrimSpace(note); note != "" {
		notePtr = &note
	}
	var reviewed models.KYCSubmission
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		sub, err := s.kycStore.GetForUpdate(ctx, tx, submissionID)
		if err != nil {
			return notFound(err, "kyc submission")
		}
		if sub.Status != models.SubmissionPending {
			return fmt.Errorf("%w: submission is %s", ErrInvalidState, sub.Status)
		}
		rows, err := s.kycStore.Review(ctx, tx, submissionID, status, reviewerID, notePtr)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: submission is no longer pending", ErrInvalidState)
		}
		if err := s.accounts.SetKYCStatus(ctx, tx, sub.AccountID, accountStatus); err != nil {
			return err
		}
		sub.Status = status
		sub.ReviewedBy = &reviewerID
		sub.ReviewNote = notePtr
		reviewed = sub
		return s.auditStore.Log(ctx, tx, reviewerID, "kyc.review", store.EntityKYC, submissionID, map[string]any{
			"status":     string(status),
			"account_id": sub.AccountID,
		})
	})
	if err != nil {
		return models.KYCSubmission{}, err
	}
	s.logger.WithFields(logrus.Fields{"account_id": reviewed.AccountID, "status": status}).Info("kyc reviewed")
	return reviewed, nil
}

func (s *KYCService) ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error) {
	return s.kycStore.ListByStatus(ctx, models.SubmissionPending, limit, offset)
}
