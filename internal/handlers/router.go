package handlers

import (
	"net/http"

	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/validator"
	"marketplace/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Deps groups everything the HTTP layer needs. Services own the business
// rules; stores are only used for reads and admin bookkeeping.
type Deps struct {
	Config       config.Config
	Logger       logrus.FieldLogger
	TxRunner     db.TxRunner
	Users        UserStore
	Accounts     AccountStore
	Transactions TransactionStore
	Admin        AdminStore
	Audit        AuditStore
	AccountSvc   AccountService
	Trade        TradeService
	Transfers    TransferService
	Dividends    DividendService
	Listings     ListingService
	Messages     MessageService
	KYC          KYCService
	Hub          *websocket.Hub
}

type Handler struct {
	cfg          config.Config
	logger       logrus.FieldLogger
	txRunner     db.TxRunner
	validate     *validator.Validator
	users        UserStore
	accounts     AccountStore
	transactions TransactionStore
	admin        AdminStore
	audit        AuditStore
	accountSvc   AccountService
	trade        TradeService
	transfers    TransferService
	dividends    DividendService
	listings     ListingService
	messages     MessageService
	kyc          KYCService
	hub          *websocket.Hub
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		cfg:          deps.Config,
		logger:       logger,
		txRunner:     deps.TxRunner,
		validate:     validator.New(),
		users:        deps.Users,
		accounts:     deps.Accounts,
		transactions: deps.Transactions,
		admin:        deps.Admin,
		audit:        deps.Audit,
		accountSvc:   deps.AccountSvc,
		trade:        deps.Trade,
		transfers:    deps.Transfers,
		dividends:    deps.Dividends,
		listings:     deps.Listings,
		messages:     deps.Messages,
		kyc:          deps.KYC,
		hub:          deps.Hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(h.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	requireAuth := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(requireAuth).Get("/me", h.Me)
	})

	router.Route("/accounts/me", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", h.MyAccount)
		r.Get("/balance", h.MyBalance)
		r.Get("/transactions", h.MyTransactions)
		r.Get("/self-check", h.SelfCheck)
	})

	router.Route("/listings", func(r chi.Router) {
		r.Get("/", h.ListListings)
		r.Get("/{id}", h.GetListing)
		r.Get("/{id}/prices", h.PriceHistory)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.With(middleware.RequireRole(models.RoleShareholder)).Post("/", h.ProposeListing)
			r.Post("/{id}/buy", h.Buy)
			r.Get("/{id}/messages", h.ListMessages)
			r.Post("/{id}/messages", h.SendMessage)
		})
	})
	router.With(requireAuth).Post("/messages/{id}/reply", h.ReplyMessage)

	router.Route("/transfers", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/deposits", h.Deposit)
		r.Post("/withdrawals", h.Withdraw)
	})
	router.Post("/payments/callback", h.PaymentCallback)

	router.With(requireAuth).Post("/kyc", h.SubmitKYC)

	router.Route("/admin", func(r chi.Router) {
		r.Use(requireAuth)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewListings)).Get("/listings/pending", h.AdminPendingListings)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewListings)).Post("/listings/{id}/approve", h.AdminApproveListing)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewListings)).Post("/listings/{id}/reject", h.AdminRejectListing)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionRunDividends)).Post("/listings/{id}/dividends", h.AdminDistributeDividends)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewTransactions)).Get("/transactions/pending", h.AdminPendingTransactions)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionViewReports)).Get("/transactions", h.AdminListTransactions)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewTransactions)).Post("/transactions/{id}/approve", h.AdminApproveTransaction)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewTransactions)).Post("/transactions/{id}/reject", h.AdminRejectTransaction)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewKYC)).Get("/kyc/pending", h.AdminPendingKYC)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewKYC)).Post("/kyc/{id}/approve", h.AdminApproveKYC)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionReviewKYC)).Post("/kyc/{id}/reject", h.AdminRejectKYC)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionViewReports)).Get("/accounts", h.AdminListAccounts)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionViewReports)).Get("/accounts/{id}/transactions", h.AdminAccountTransactions)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionViewReports)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.RequireAdmin(h.admin, store.PermissionViewReports)).Get("/reconcile", h.Reconcile)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/roles/grant", h.GrantRole)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/promote", h.PromoteAdmin)
	})

	router.Get("/ws/balances", h.WSBalances)
	router.Get("/ws/market", h.WSMarket)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
