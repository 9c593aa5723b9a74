package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := New(testDeps())
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/admin/listings/pending"},
		{http.MethodPost, "/admin/listings/L1/approve"},
		{http.MethodGet, "/admin/transactions/pending"},
		{http.MethodPost, "/admin/transactions/tx-1/approve"},
		{http.MethodGet, "/admin/kyc/pending"},
		{http.MethodGet, "/admin/audit"},
		{http.MethodGet, "/admin/reconcile"},
		{http.MethodPost, "/admin/promote"},
	}
	for _, p := range paths {
		if rr := do(t, h, p.method, p.path, nil, buyer()); rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", p.method, p.path, rr.Code)
		}
		if rr := do(t, h, p.method, p.path, nil, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: expected 401, got %d", p.method, p.path, rr.Code)
		}
	}
}

func TestAdminPermissionScopesRoutes(t *testing.T) {
	deps := testDeps()
	deps.Admin = stubAdminStore{
		isAdminFn: func(ctx context.Context, userID string) (bool, bool, error) { return true, false, nil },
		hasRoleFn: func(ctx context.Context, userID, role string) (bool, error) {
			return role == store.PermissionReviewKYC, nil
		},
	}
	h := New(deps)
	if rr := do(t, h, http.MethodGet, "/admin/kyc/pending", nil, adminSubject()); rr.Code != http.StatusOK {
		t.Fatalf("kyc reviewer: expected 200, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/admin/listings/pending", nil, adminSubject()); rr.Code != http.StatusForbidden {
		t.Fatalf("listings without permission: expected 403, got %d", rr.Code)
	}
}

func TestAdminApproveListing(t *testing.T) {
	deps := testDeps()
	deps.Admin = superAdminStore()
	var actor string
	deps.Listings = stubListingService{approveFn: func(ctx context.Context, listingID, actorID string) (models.Listing, error) {
		actor = actorID
		if listingID == "L-active" {
			return models.Listing{}, services.ErrInvalidState
		}
		return models.Listing{ID: listingID, Status: models.ListingActive}, nil
	}}
	h := New(deps)

	if rr := do(t, h, http.MethodPost, "/admin/listings/L1/approve", nil, adminSubject()); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if actor != "admin-1" {
		t.Fatalf("expected actor admin-1, got %s", actor)
	}
	if rr := do(t, h, http.MethodPost, "/admin/listings/L-active/approve", nil, adminSubject()); rr.Code != http.StatusConflict {
		t.Fatalf("approve twice: expected 409, got %d", rr.Code)
	}
}

func TestAdminRejectRequiresReason(t *testing.T) {
	deps := testDeps()
	deps.Admin = superAdminStore()
	var reason string
	deps.Transfers = stubTransferService{rejectFn: func(ctx context.Context, transactionID, r, actorID string) (models.Transaction, error) {
		reason = r
		return models.Transaction{ID: transactionID, Status: models.StatusRejected, Reason: stringPtr(r)}, nil
	}}
	h := New(deps)

	if rr := do(t, h, http.MethodPost, "/admin/transactions/tx-1/reject", map[string]string{}, adminSubject()); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing reason: expected 400, got %d", rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/admin/transactions/tx-1/reject", map[string]string{"reason": "bad number"}, adminSubject())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if reason != "bad number" {
		t.Fatalf("expected reason to reach the service, got %q", reason)
	}
}

func TestAdminApproveTransactionAlreadyProcessed(t *testing.T) {
	deps := testDeps()
	deps.Admin = superAdminStore()
	current := models.Transaction{ID: "tx-1", Status: models.StatusRejected}
	deps.Transfers = stubTransferService{approveFn: func(ctx context.Context, transactionID, actorID string) (models.Transaction, error) {
		return models.Transaction{}, &services.StateError{Err: services.ErrInvalidState, Transaction: current}
	}}
	rr := do(t, New(deps), http.MethodPost, "/admin/transactions/tx-1/approve", nil, adminSubject())
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body errorResponse
	decodeBody(t, rr, &body)
	if body.Transaction == nil || body.Transaction.Status != models.StatusRejected {
		t.Fatalf("expected current transaction, got %+v", body.Transaction)
	}
}

func TestAdminDistributeDividends(t *testing.T) {
	cases := []struct {
		name   string
		result services.DistributionResult
		err    error
		status int
	}{
		{"complete", services.DistributionResult{BatchID: "b1", Complete: true}, nil, http.StatusCreated},
		{"partial", services.DistributionResult{BatchID: "b1", Complete: false}, nil, http.StatusMultiStatus},
		{"already processed", services.DistributionResult{BatchID: "b1", Complete: true}, services.ErrAlreadyProcessed, http.StatusOK},
		{"reused key", services.DistributionResult{}, services.ErrInvalidState, http.StatusConflict},
		{"unknown listing", services.DistributionResult{}, services.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := testDeps()
			deps.Admin = superAdminStore()
			var got services.DistributeRequest
			deps.Dividends = stubDividendService{distributeFn: func(ctx context.Context, req services.DistributeRequest) (services.DistributionResult, error) {
				got = req
				return tc.result, tc.err
			}}
			rr := do(t, New(deps), http.MethodPost, "/admin/listings/L1/dividends", map[string]any{"amount_per_unit": 50, "batch_key": "2024-Q1"}, adminSubject())
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got.ListingID != "L1" || got.AmountPerUnit != 50 || got.BatchKey != "2024-Q1" || got.ActorID != "admin-1" {
				t.Fatalf("unexpected distribute request %+v", got)
			}
		})
	}
}

func TestAdminReviewKYC(t *testing.T) {
	deps := testDeps()
	deps.Admin = superAdminStore()
	var approved []bool
	deps.KYC = stubKYCService{reviewFn: func(ctx context.Context, submissionID string, approve bool, note, reviewerID string) (models.KYCSubmission, error) {
		approved = append(approved, approve)
		return models.KYCSubmission{ID: submissionID}, nil
	}}
	h := New(deps)
	if rr := do(t, h, http.MethodPost, "/admin/kyc/k1/approve", nil, adminSubject()); rr.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/admin/kyc/k1/reject", map[string]string{"note": "blurry"}, adminSubject()); rr.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d", rr.Code)
	}
	if len(approved) != 2 || !approved[0] || approved[1] {
		t.Fatalf("unexpected review calls %v", approved)
	}
}

func TestAdminReconcileListsMismatches(t *testing.T) {
	deps := testDeps()
	deps.Admin = superAdminStore()
	deps.AccountSvc = stubAccountService{reconcileFn: func(ctx context.Context, accountID string) ([]store.ReconcileRow, error) {
		if accountID != "" {
			t.Fatalf("expected full reconcile, got %q", accountID)
		}
		return []store.ReconcileRow{
			{AccountID: "a", AccountBalance: 10, JournalSum: 10},
			{AccountID: "b", AccountBalance: 20, JournalSum: 15, Difference: 5},
		}, nil
	}}
	rr := do(t, New(deps), http.MethodGet, "/admin/reconcile", nil, adminSubject())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Checked    int                  `json:"checked"`
		Mismatched int                  `json:"mismatched"`
		Rows       []store.ReconcileRow `json:"rows"`
	}
	decodeBody(t, rr, &body)
	if body.Checked != 2 || body.Mismatched != 1 || len(body.Rows) != 1 || body.Rows[0].AccountID != "b" {
		t.Fatalf("unexpected reconcile %+v", body)
	}
}

func TestPromoteAdmin(t *testing.T) {
	deps := testDeps()
	deps.Users = stubUserStore{getByEmailFn: func(ctx context.Context, email string) (models.User, error) {
		return models.User{ID: "user-7", Email: email}, nil
	}}
	var createdBy string
	var promotedRole models.Role
	deps.Admin = stubAdminStore{
		isAdminFn: superAdminStore().isAdminFn,
		createAdminFn: func(ctx context.Context, tx store.Execer, userID string, isSuper bool, by *string) error {
			if isSuper || userID != "user-7" {
				t.Fatalf("unexpected admin create %s super=%v", userID, isSuper)
			}
			createdBy = *by
			return nil
		},
	}
	deps.Accounts = stubAccountStore{setRoleFn: func(ctx context.Context, tx store.Execer, accountID string, role models.Role) error {
		promotedRole = role
		return nil
	}}
	rr := do(t, New(deps), http.MethodPost, "/admin/promote", map[string]string{"email": "Seller@Example.com"}, adminSubject())
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if createdBy != "admin-1" || promotedRole != models.RoleAdmin {
		t.Fatalf("unexpected promotion by %s role %s", createdBy, promotedRole)
	}
}

func TestPromoteAdminRequiresSuper(t *testing.T) {
	deps := testDeps()
	deps.Admin = stubAdminStore{isAdminFn: func(ctx context.Context, userID string) (bool, bool, error) { return true, false, nil }}
	rr := do(t, New(deps), http.MethodPost, "/admin/promote", map[string]string{"email": "a@b.cm"}, adminSubject())
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestGrantRole(t *testing.T) {
	cases := []struct {
		name   string
		role   string
		target func(ctx context.Context, userID string) (bool, bool, error)
		status int
	}{
		{"granted", store.PermissionReviewKYC, func(ctx context.Context, userID string) (bool, bool, error) { return true, userID == "admin-1", nil }, http.StatusCreated},
		{"unknown permission", "CanDoAnything", func(ctx context.Context, userID string) (bool, bool, error) { return true, userID == "admin-1", nil }, http.StatusBadRequest},
		{"target not admin", store.PermissionReviewKYC, func(ctx context.Context, userID string) (bool, bool, error) {
			return userID == "admin-1", userID == "admin-1", nil
		}, http.StatusBadRequest},
		{"target is super", store.PermissionReviewKYC, func(ctx context.Context, userID string) (bool, bool, error) { return true, true, nil }, http.StatusBadRequest},
		{"store failure", store.PermissionReviewKYC, func(ctx context.Context, userID string) (bool, bool, error) {
			if userID == "admin-1" {
				return true, true, nil
			}
			return false, false, errors.New("db down")
		}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := testDeps()
			deps.Admin = stubAdminStore{isAdminFn: tc.target}
			rr := do(t, New(deps), http.MethodPost, "/admin/roles/grant", map[string]string{"admin_user_id": "admin-2", "role": tc.role}, adminSubject())
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestAdminAccountTransactionsUnknownAccount(t *testing.T) {
	deps := testDeps()
	deps.Admin = superAdminStore()
	deps.Accounts = stubAccountStore{getByIDFn: func(ctx context.Context, accountID string) (models.Account, error) {
		return models.Account{}, services.ErrNotFound
	}}
	rr := do(t, New(deps), http.MethodGet, "/admin/accounts/nope/transactions", nil, adminSubject())
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
