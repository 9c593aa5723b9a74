package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/internal/handlers"
	"marketplace/internal/logging"
	"marketplace/internal/payment"
	"marketplace/internal/services"
	"marketplace/internal/store"
	"marketplace/internal/wallet"
	"marketplace/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect database")
	}
	defer database.Close()

	redisClient := db.ConnectRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	users := store.NewUserStore(database)
	accounts := store.NewAccountStore(database)
	ledger := store.NewLedgerStore(database)
	listings := store.NewListingStore(database)
	prices := store.NewPriceStore(database)
	transactions := store.NewTransactionStore(database)
	dividends := store.NewDividendStore(database)
	kycStore := store.NewKYCStore(database)
	messages := store.NewMessageStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	purse := wallet.New(accounts, ledger)

	accountService := services.NewAccountService(services.AccountDeps{
		TxRunner:   txRunner,
		Users:      users,
		Accounts:   accounts,
		Admins:     admin,
		History:    transactions,
		Reconciler: ledger,
		AuditStore: audit,
		Logger:     logger,
	})
	tradeService := services.NewTradeService(services.TradeDeps{
		TxRunner:      txRunner,
		AccountStore:  accounts,
		ListingStore:  listings,
		PriceStore:    prices,
		TxStore:       transactions,
		AuditStore:    audit,
		Wallet:        purse,
		BalanceHub:    hub,
		MarketHub:     hub,
		KYC:           cfg,
		ImpactPerUnit: cfg.PriceImpactPerUnit,
		Currency:      cfg.Currency,
		Logger:        logger,
	})
	transferService := services.NewTransferService(services.TransferDeps{
		TxRunner:     txRunner,
		AccountStore: accounts,
		TxStore:      transactions,
		AuditStore:   audit,
		Wallet:       purse,
		Provider:     payment.NewSandboxProvider(),
		Guard:        payment.NewGuard(redisClient, cfg.CallbackLockTTL),
		Hub:          hub,
		KYC:          cfg,
		Currency:     cfg.Currency,
		Logger:       logger,
	})
	dividendService := services.NewDividendService(services.DividendDeps{
		TxRunner:      txRunner,
		ListingStore:  listings,
		HoldingsStore: transactions,
		DividendStore: dividends,
		TxStore:       transactions,
		AuditStore:    audit,
		Wallet:        purse,
		Hub:           hub,
		Currency:      cfg.Currency,
		Logger:        logger,
	})
	listingService := services.NewListingService(txRunner, accounts, listings, prices, audit, logger)
	messageService := services.NewMessageService(listings, messages)
	kycService := services.NewKYCService(txRunner, accounts, kycStore, audit, logger)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := accountService.SeedAdmin(seedCtx, services.SeedAdminRequest{
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
		Name:     cfg.AdminName,
	}); err != nil {
		logger.WithError(err).Error("admin seeding failed")
	}
	if hasAdmin, err := admin.HasAnyAdmin(seedCtx); err == nil && !hasAdmin {
		logger.Warn("no admin account exists; set ADMIN_EMAIL and ADMIN_PASSWORD to seed one")
	}
	seedCancel()

	if cfg.DriftEnabled {
		drift := services.NewDriftEngine(services.DriftDeps{
			TxRunner:     txRunner,
			ListingStore: listings,
			PriceStore:   prices,
			Hub:          hub,
			Redis:        redisClient,
			Logger:       logger,
			Config: services.DriftConfig{
				Interval:   cfg.DriftInterval,
				MinPercent: cfg.DriftMinPercent,
				MaxPercent: cfg.DriftMaxPercent,
				Floor:      cfg.PriceFloor,
			},
		})
		drift.Start(context.Background())
		defer drift.Stop()
	}

	handler := handlers.New(handlers.Deps{
		Config:       cfg,
		Logger:       logger,
		TxRunner:     txRunner,
		Users:        users,
		Accounts:     accounts,
		Transactions: transactions,
		Admin:        admin,
		Audit:        audit,
		AccountSvc:   accountService,
		Trade:        tradeService,
		Transfers:    transferService,
		Dividends:    dividendService,
		Listings:     listingService,
		Messages:     messageService,
		KYC:          kycService,
		Hub:          hub,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("marketplace API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}
