package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"marketplace/internal/auth"
	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, user models.User) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
}

type AccountRegistry interface {
	Create(ctx context.Context, tx store.Execer, id, userID string, role models.Role, kyc models.KYCStatus) error
	GetByUserID(ctx context.Context, userID string) (models.Account, error)
	SetRole(ctx context.Context, tx store.Execer, accountID string, role models.Role) error
	SetKYCStatus(ctx context.Context, tx store.Execer, accountID string, status models.KYCStatus) error
}

type AdminRegistry interface {
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

type HistoryStore interface {
	ListByAccount(ctx context.Context, accountID string, kind models.TransactionKind, limit, offset int) ([]models.Transaction, error)
	CountByAccount(ctx context.Context, accountID string, kind models.TransactionKind) (int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, accountID string) ([]store.ReconcileRow, error)
}

type AccountService struct {
	txRunner   db.TxRunner
	users      UserStore
	accounts   AccountRegistry
	admins     AdminRegistry
	history    HistoryStore
	reconciler Reconciler
	auditStore AuditStore
	logger     logrus.FieldLogger
}

type AccountDeps struct {
	TxRunner   db.TxRunner
	Users      UserStore
	Accounts   AccountRegistry
	Admins     AdminRegistry
	History    HistoryStore
	Reconciler Reconciler
	AuditStore AuditStore
	Logger     logrus.FieldLogger
}

func NewAccountService(deps AccountDeps) *AccountService {
	return &AccountService{
		txRunner:   deps.TxRunner,
		users:      deps.Users,
		accounts:   deps.Accounts,
		admins:     deps.Admins,
		history:    deps.History,
		reconciler: deps.Reconciler,
		auditStore: deps.AuditStore,
		logger:     deps.Logger,
	}
}

type RegisterRequest struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Role     models.Role
}

// Register creates a user with a zero-balance account. Only buyer and
// shareholder roles can be self-assigned.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (models.User, models.Account, error) {
	if req.Role == "" {
		req.Role = models.RoleBuyer
	}
	if req.Role != models.RoleBuyer && req.Role != models.RoleShareholder {
		return models.User{}, models.Account{}, fmt.Errorf("%w: role %s cannot be self-assigned", ErrForbidden, req.Role)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.User{}, models.Account{}, err
	}
	user := models.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
	}
	if req.Phone != "" {
		user.Phone = stringPtr(strings.TrimSpace(req.Phone))
	}
	account := models.Account{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Role:      req.Role,
		KYCStatus: models.KYCUnverified,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.Create(ctx, tx, user); err != nil {
			return err
		}
		if err := s.accounts.Create(ctx, tx, account.ID, user.ID, account.Role, account.KYCStatus); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, user.ID, "account.register", store.EntityAccount, account.ID, map[string]any{
			"role": string(account.Role),
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.User{}, models.Account{}, fmt.Errorf("email %s: %w", user.Email, ErrAlreadyExists)
		}
		return models.User{}, models.Account{}, err
	}
	return user, account, nil
}

// Authenticate checks credentials and returns the caller's account.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (models.User, models.Account, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.Account{}, ErrInvalidCredentials
		}
		return models.User{}, models.Account{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return models.User{}, models.Account{}, ErrInvalidCredentials
	}
	account, err := s.accounts.GetByUserID(ctx, user.ID)
	if err != nil {
		return models.User{}, models.Account{}, notFound(err, "account")
	}
	return user, account, nil
}

type SeedAdminRequest struct {
	Email    string
	Password string
	Name     string
}

// SeedAdmin makes sure the configured super admin exists. It is safe to run
// on every start.
func (s *AccountService) SeedAdmin(ctx context.Context, req SeedAdminRequest) error {
	if req.Email == "" || req.Password == "" {
		s.logger.Warn("admin seed credentials not set, skipping admin seeding")
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		account, err := s.accounts.GetByUserID(ctx, existing.ID)
		if err != nil {
			return notFound(err, "seed admin account")
		}
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			return s.grantSuper(ctx, tx, existing.ID, account.ID)
		})
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}
	user := models.User{ID: uuid.NewString(), Name: req.Name, Email: email, PasswordHash: hash}
	accountID := uuid.NewString()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.users.Create(ctx, tx, user); err != nil {
			return err
		}
		if err := s.accounts.Create(ctx, tx, accountID, user.ID, models.RoleAdmin, models.KYCApproved); err != nil {
			return err
		}
		return s.grantSuper(ctx, tx, user.ID, accountID)
	})
	if err != nil {
		return err
	}
	s.logger.WithField("email", email).Info("admin account seeded")
	return nil
}

func (s *AccountService) grantSuper(ctx context.Context, tx store.Execer, userID, accountID string) error {
	if err := s.accounts.SetRole(ctx, tx, accountID, models.RoleAdmin); err != nil {
		return err
	}
	if err := s.accounts.SetKYCStatus(ctx, tx, accountID, models.KYCApproved); err != nil {
		return err
	}
	if err := s.admins.CreateAdmin(ctx, tx, userID, true, nil); err != nil {
		return err
	}
	for _, permission := range store.AllPermissions {
		if err := s.admins.GrantRole(ctx, tx, userID, permission); err != nil {
			return err
		}
	}
	return nil
}

type HistoryPage struct {
	Items []models.Transaction `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// History pages through an account's transactions, newest first.
func (s *AccountService) History(ctx context.Context, accountID string, kind models.TransactionKind, page, limit int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	items, err := s.history.ListByAccount(ctx, accountID, kind, limit, (page-1)*limit)
	if err != nil {
		return HistoryPage{}, err
	}
	total, err := s.history.CountByAccount(ctx, accountID, kind)
	if err != nil {
		return HistoryPage{}, err
	}
	if items == nil {
		items = []models.Transaction{}
	}
	return HistoryPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Reconcile compares stored balances with the wallet journal. Rows with a
// non-zero difference are logged.
func (s *AccountService) Reconcile(ctx context.Context, accountID string) ([]store.ReconcileRow, error) {
	rows, err := s.reconciler.Reconcile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Difference != 0 {
			s.logger.WithFields(logrus.Fields{
				"account_id": row.AccountID,
				"balance":    row.AccountBalance,
				"journal":    row.JournalSum,
			}).Error("balance does not match wallet journal")
		}
	}
	return rows, nil
}
