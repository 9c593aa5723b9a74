package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/config"
	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"
	"marketplace/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

type stubAccountStore struct {
	getByIDFn          func(ctx context.Context, accountID string) (models.Account, error)
	getByUserIDFn      func(ctx context.Context, userID string) (models.Account, error)
	setRoleFn          func(ctx context.Context, tx store.Execer, accountID string, role models.Role) error
	listAllWithUsersFn func(ctx context.Context, limit, offset int) ([]store.AccountWithUser, error)
}

func (s stubAccountStore) GetByID(ctx context.Context, accountID string) (models.Account, error) {
	if s.getByIDFn == nil {
		return models.Account{ID: accountID}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

func (s stubAccountStore) GetByUserID(ctx context.Context, userID string) (models.Account, error) {
	if s.getByUserIDFn == nil {
		return models.Account{UserID: userID}, nil
	}
	return s.getByUserIDFn(ctx, userID)
}

func (s stubAccountStore) SetRole(ctx context.Context, tx store.Execer, accountID string, role models.Role) error {
	if s.setRoleFn == nil {
		return nil
	}
	return s.setRoleFn(ctx, tx, accountID, role)
}

func (s stubAccountStore) ListAllWithUsers(ctx context.Context, limit, offset int) ([]store.AccountWithUser, error) {
	if s.listAllWithUsersFn == nil {
		return nil, nil
	}
	return s.listAllWithUsersFn(ctx, limit, offset)
}

type stubTransactionStore struct {
	listPendingFn func(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	listAllFn     func(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

func (s stubTransactionStore) ListPending(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if s.listPendingFn == nil {
		return nil, nil
	}
	return s.listPendingFn(ctx, limit, offset)
}

func (s stubTransactionStore) ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx, limit, offset)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn     func(ctx context.Context, userID, role string) (bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	grantRoleFn   func(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error
	listFn func(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubAccountService struct {
	registerFn     func(ctx context.Context, req services.RegisterRequest) (models.User, models.Account, error)
	authenticateFn func(ctx context.Context, email, password string) (models.User, models.Account, error)
	historyFn      func(ctx context.Context, accountID string, kind models.TransactionKind, page, limit int) (services.HistoryPage, error)
	reconcileFn    func(ctx context.Context, accountID string) ([]store.ReconcileRow, error)
}

func (s stubAccountService) Register(ctx context.Context, req services.RegisterRequest) (models.User, models.Account, error) {
	if s.registerFn == nil {
		return models.User{}, models.Account{}, nil
	}
	return s.registerFn(ctx, req)
}

func (s stubAccountService) Authenticate(ctx context.Context, email, password string) (models.User, models.Account, error) {
	if s.authenticateFn == nil {
		return models.User{}, models.Account{}, services.ErrInvalidCredentials
	}
	return s.authenticateFn(ctx, email, password)
}

func (s stubAccountService) History(ctx context.Context, accountID string, kind models.TransactionKind, page, limit int) (services.HistoryPage, error) {
	if s.historyFn == nil {
		return services.HistoryPage{}, nil
	}
	return s.historyFn(ctx, accountID, kind, page, limit)
}

func (s stubAccountService) Reconcile(ctx context.Context, accountID string) ([]store.ReconcileRow, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx, accountID)
}

type stubTradeService struct {
	buyFn func(ctx context.Context, req services.BuyRequest) (services.BuyResult, error)
}

func (s stubTradeService) Buy(ctx context.Context, req services.BuyRequest) (services.BuyResult, error) {
	if s.buyFn == nil {
		return services.BuyResult{}, nil
	}
	return s.buyFn(ctx, req)
}

type stubTransferService struct {
	depositFn  func(ctx context.Context, req services.TransferRequest) (models.Transaction, error)
	withdrawFn func(ctx context.Context, req services.TransferRequest) (models.Transaction, error)
	callbackFn func(ctx context.Context, cb services.PaymentCallback) (models.Transaction, error)
	approveFn  func(ctx context.Context, transactionID, actorID string) (models.Transaction, error)
	rejectFn   func(ctx context.Context, transactionID, reason, actorID string) (models.Transaction, error)
}

func (s stubTransferService) InitiateDeposit(ctx context.Context, req services.TransferRequest) (models.Transaction, error) {
	if s.depositFn == nil {
		return models.Transaction{}, nil
	}
	return s.depositFn(ctx, req)
}

func (s stubTransferService) InitiateWithdrawal(ctx context.Context, req services.TransferRequest) (models.Transaction, error) {
	if s.withdrawFn == nil {
		return models.Transaction{}, nil
	}
	return s.withdrawFn(ctx, req)
}

func (s stubTransferService) PaymentConfirmed(ctx context.Context, cb services.PaymentCallback) (models.Transaction, error) {
	if s.callbackFn == nil {
		return models.Transaction{}, nil
	}
	return s.callbackFn(ctx, cb)
}

func (s stubTransferService) ApproveTransaction(ctx context.Context, transactionID, actorID string) (models.Transaction, error) {
	if s.approveFn == nil {
		return models.Transaction{}, nil
	}
	return s.approveFn(ctx, transactionID, actorID)
}

func (s stubTransferService) RejectTransaction(ctx context.Context, transactionID, reason, actorID string) (models.Transaction, error) {
	if s.rejectFn == nil {
		return models.Transaction{}, nil
	}
	return s.rejectFn(ctx, transactionID, reason, actorID)
}

type stubDividendService struct {
	distributeFn func(ctx context.Context, req services.DistributeRequest) (services.DistributionResult, error)
}

func (s stubDividendService) Distribute(ctx context.Context, req services.DistributeRequest) (services.DistributionResult, error) {
	if s.distributeFn == nil {
		return services.DistributionResult{Complete: true}, nil
	}
	return s.distributeFn(ctx, req)
}

type stubListingService struct {
	proposeFn      func(ctx context.Context, req services.ProposeRequest) (models.Listing, error)
	approveFn      func(ctx context.Context, listingID, actorID string) (models.Listing, error)
	rejectFn       func(ctx context.Context, listingID, reason, actorID string) (models.Listing, error)
	getFn          func(ctx context.Context, listingID string) (models.Listing, error)
	listActiveFn   func(ctx context.Context, limit, offset int) ([]models.Listing, error)
	listPendingFn  func(ctx context.Context, limit, offset int) ([]models.Listing, error)
	priceHistoryFn func(ctx context.Context, listingID string, limit int) ([]models.PricePoint, error)
}

func (s stubListingService) Propose(ctx context.Context, req services.ProposeRequest) (models.Listing, error) {
	if s.proposeFn == nil {
		return models.Listing{}, nil
	}
	return s.proposeFn(ctx, req)
}

func (s stubListingService) Approve(ctx context.Context, listingID, actorID string) (models.Listing, error) {
	if s.approveFn == nil {
		return models.Listing{}, nil
	}
	return s.approveFn(ctx, listingID, actorID)
}

func (s stubListingService) Reject(ctx context.Context, listingID, reason, actorID string) (models.Listing, error) {
	if s.rejectFn == nil {
		return models.Listing{}, nil
	}
	return s.rejectFn(ctx, listingID, reason, actorID)
}

func (s stubListingService) Get(ctx context.Context, listingID string) (models.Listing, error) {
	if s.getFn == nil {
		return models.Listing{ID: listingID}, nil
	}
	return s.getFn(ctx, listingID)
}

func (s stubListingService) ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	if s.listActiveFn == nil {
		return []models.Listing{}, nil
	}
	return s.listActiveFn(ctx, limit, offset)
}

func (s stubListingService) ListPending(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	if s.listPendingFn == nil {
		return []models.Listing{}, nil
	}
	return s.listPendingFn(ctx, limit, offset)
}

func (s stubListingService) PriceHistory(ctx context.Context, listingID string, limit int) ([]models.PricePoint, error) {
	if s.priceHistoryFn == nil {
		return []models.PricePoint{}, nil
	}
	return s.priceHistoryFn(ctx, listingID, limit)
}

type stubMessageService struct {
	sendFn  func(ctx context.Context, listingID, senderAccountID, content string) (models.Message, error)
	listFn  func(ctx context.Context, listingID, accountID string, limit, offset int) ([]models.Message, error)
	replyFn func(ctx context.Context, messageID, ownerAccountID, reply string) (models.Message, error)
}

func (s stubMessageService) Send(ctx context.Context, listingID, senderAccountID, content string) (models.Message, error) {
	if s.sendFn == nil {
		return models.Message{}, nil
	}
	return s.sendFn(ctx, listingID, senderAccountID, content)
}

func (s stubMessageService) List(ctx context.Context, listingID, accountID string, limit, offset int) ([]models.Message, error) {
	if s.listFn == nil {
		return []models.Message{}, nil
	}
	return s.listFn(ctx, listingID, accountID, limit, offset)
}

func (s stubMessageService) Reply(ctx context.Context, messageID, ownerAccountID, reply string) (models.Message, error) {
	if s.replyFn == nil {
		return models.Message{}, nil
	}
	return s.replyFn(ctx, messageID, ownerAccountID, reply)
}

type stubKYCService struct {
	submitFn      func(ctx context.Context, req services.KYCRequest) (models.KYCSubmission, error)
	reviewFn      func(ctx context.Context, submissionID string, approve bool, note, reviewerID string) (models.KYCSubmission, error)
	listPendingFn func(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error)
}

func (s stubKYCService) Submit(ctx context.Context, req services.KYCRequest) (models.KYCSubmission, error) {
	if s.submitFn == nil {
		return models.KYCSubmission{}, nil
	}
	return s.submitFn(ctx, req)
}

func (s stubKYCService) Review(ctx context.Context, submissionID string, approve bool, note, reviewerID string) (models.KYCSubmission, error) {
	if s.reviewFn == nil {
		return models.KYCSubmission{}, nil
	}
	return s.reviewFn(ctx, submissionID, approve, note, reviewerID)
}

func (s stubKYCService) ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error) {
	if s.listPendingFn == nil {
		return []models.KYCSubmission{}, nil
	}
	return s.listPendingFn(ctx, limit, offset)
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:                "test",
		Port:                  "0",
		JWTSecret:             testSecret,
		TokenTTL:              time.Minute,
		AllowedOrigins:        "*",
		Currency:              "XAF",
		PaymentCallbackSecret: "callback-secret",
	}
}

// testDeps returns a Deps where every dependency is a zero-value stub. Tests
// override the ones they exercise.
func testDeps() Deps {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Deps{
		Config:       testConfig(),
		Logger:       logger,
		TxRunner:     fakeTxRunner{},
		Users:        stubUserStore{},
		Accounts:     stubAccountStore{},
		Transactions: stubTransactionStore{},
		Admin:        stubAdminStore{},
		Audit:        stubAuditStore{},
		AccountSvc:   stubAccountService{},
		Trade:        stubTradeService{},
		Transfers:    stubTransferService{},
		Dividends:    stubDividendService{},
		Listings:     stubListingService{},
		Messages:     stubMessageService{},
		KYC:          stubKYCService{},
		Hub:          websocket.NewHub(),
	}
}

func buyer() *auth.Subject {
	return &auth.Subject{UserID: "user-1", AccountID: "acc-1", Role: models.RoleBuyer}
}

func shareholder() *auth.Subject {
	return &auth.Subject{UserID: "user-2", AccountID: "acc-2", Role: models.RoleShareholder}
}

func adminSubject() *auth.Subject {
	return &auth.Subject{UserID: "admin-1", AccountID: "acc-admin", Role: models.RoleAdmin}
}

func superAdminStore() stubAdminStore {
	return stubAdminStore{isAdminFn: func(ctx context.Context, userID string) (bool, bool, error) {
		return userID == "admin-1", userID == "admin-1", nil
	}}
}

// do sends a request through the full router. A nil subject sends no token.
func do(t *testing.T, h *Handler, method, path string, body any, subject *auth.Subject) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if subject != nil {
		token, err := auth.GenerateToken(testSecret, *subject, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decodeBody(t, rr, &body)
	return body.Error
}

func stringPtr(value string) *string {
	return &value
}
