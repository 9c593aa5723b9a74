package store

import (
	"context"

	"marketplace/internal/models"
)

type KYCStore struct {
	db DB
}

func NewKYCStore(db DB) *KYCStore {
	return &KYCStore{db: db}
}

const kycColumns = `id, account_id, full_name, country, document_type, document_number, status, reviewed_by,
		       review_note, created_at, reviewed_at`

func (s *KYCStore) Create(ctx context.Context, tx Execer, sub models.KYCSubmission) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO kyc_submissions (id, account_id, full_name, country, document_type, document_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.AccountID, sub.FullName, sub.Country, sub.DocumentType, sub.DocumentNumber, sub.Status)
	return err
}

func (s *KYCStore) GetForUpdate(ctx context.Context, tx Getter, submissionID string) (models.KYCSubmission, error) {
	var row models.KYCSubmission
	err := tx.GetContext(ctx, &row, `SELECT `+kycColumns+` FROM kyc_submissions WHERE id = $1 FOR UPDATE`, submissionID)
	return row, err
}

func (s *KYCStore) ListByStatus(ctx context.Context, status models.KYCSubmissionStatus, limit, offset int) ([]models.KYCSubmission, error) {
	var rows []models.KYCSubmission
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+kycColumns+`
		FROM kyc_submissions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *KYCStore) Review(ctx context.Context, tx Execer, submissionID string, status models.KYCSubmissionStatus, reviewerID string, note *string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE kyc_submissions
		SET status = $1, reviewed_by = $2, review_note = $3, reviewed_at = NOW()
		WHERE id = $4 AND status = 'pending'
	`, status, reviewerID, note, submissionID))
}
