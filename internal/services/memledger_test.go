package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace/internal/models"
	"marketplace/internal/payment"
	"marketplace/internal/store"
	"marketplace/internal/wallet"
	"marketplace/internal/websocket"
)

// memLedger is an in-memory ledger store. Its tx runner serializes
// transactions and restores a snapshot when fn fails, which is the behavior
// the services rely on from a serializable database transaction.
type memLedger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts map[string]models.Account
	listings map[string]models.Listing
	txs      map[string]models.Transaction
	txOrder  []string
	journal  []models.WalletEntry
	prices   []models.PricePoint
	batches  map[string]models.DividendBatch
	payouts  map[string]models.DividendPayout
	kyc      map[string]models.KYCSubmission
	audit    []string

	// failCreate makes Create fail for the named transaction kind.
	failCreate     models.TransactionKind
	failCreateFor  string
	failCreateWith error
	// failReference makes SetReference fail.
	failReference error
	commits       int
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: make(map[string]models.Account),
		listings: make(map[string]models.Listing),
		txs:      make(map[string]models.Transaction),
		batches:  make(map[string]models.DividendBatch),
		payouts:  make(map[string]models.DividendPayout),
		kyc:      make(map[string]models.KYCSubmission),
	}
}

type memSnapshot struct {
	accounts map[string]models.Account
	listings map[string]models.Listing
	txs      map[string]models.Transaction
	txOrder  []string
	journal  []models.WalletEntry
	prices   []models.PricePoint
	batches  map[string]models.DividendBatch
	payouts  map[string]models.DividendPayout
	kyc      map[string]models.KYCSubmission
	audit    []string
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (l *memLedger) snapshot() memSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return memSnapshot{
		accounts: copyMap(l.accounts),
		listings: copyMap(l.listings),
		txs:      copyMap(l.txs),
		txOrder:  append([]string(nil), l.txOrder...),
		journal:  append([]models.WalletEntry(nil), l.journal...),
		prices:   append([]models.PricePoint(nil), l.prices...),
		batches:  copyMap(l.batches),
		payouts:  copyMap(l.payouts),
		kyc:      copyMap(l.kyc),
		audit:    append([]string(nil), l.audit...),
	}
}

func (l *memLedger) restore(s memSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts, l.listings, l.txs, l.txOrder = s.accounts, s.listings, s.txs, s.txOrder
	l.journal, l.prices, l.batches, l.payouts = s.journal, s.prices, s.batches, s.payouts
	l.kyc, l.audit = s.kyc, s.audit
}

type memTxRunner struct {
	l *memLedger
}

func (r memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.l.txMu.Lock()
	defer r.l.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := r.l.snapshot()
	if err := fn(nil); err != nil {
		r.l.restore(snap)
		return err
	}
	r.l.mu.Lock()
	r.l.commits++
	r.l.mu.Unlock()
	return nil
}

// seeding helpers

func (l *memLedger) addAccount(id string, role models.Role, balance int64, kyc models.KYCStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[id] = models.Account{ID: id, UserID: "user-" + id, Role: role, Balance: balance, KYCStatus: kyc}
}

func (l *memLedger) addListing(id, owner string, price, available int64, status models.ListingStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	listing := models.Listing{ID: id, CompanyName: "Company " + id, Price: price, TotalUnits: available, AvailableUnits: available, Status: status}
	if owner != "" {
		listing.OwnerAccountID = &owner
	}
	l.listings[id] = listing
}

func (l *memLedger) balance(id string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[id].Balance
}

func (l *memLedger) listing(id string) models.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listings[id]
}

func (l *memLedger) tx(id string) models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txs[id]
}

func (l *memLedger) txsOf(accountID string, kind models.TransactionKind) []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, id := range l.txOrder {
		t := l.txs[id]
		if t.AccountID == accountID && (kind == "" || t.Kind == kind) {
			out = append(out, t)
		}
	}
	return out
}

func (l *memLedger) txCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}

func (l *memLedger) journalSum(accountID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for _, e := range l.journal {
		if e.AccountID == accountID {
			sum += e.Delta
		}
	}
	return sum
}

// accounts view

type memAccounts struct{ l *memLedger }

func (a memAccounts) GetByID(_ context.Context, accountID string) (models.Account, error) {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	acc, ok := a.l.accounts[accountID]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return acc, nil
}

func (a memAccounts) GetForUpdate(ctx context.Context, _ store.Getter, accountID string) (models.Account, error) {
	return a.GetByID(ctx, accountID)
}

func (a memAccounts) Increment(_ context.Context, _ store.Getter, accountID string, amount int64) (int64, error) {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	acc, ok := a.l.accounts[accountID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	acc.Balance += amount
	a.l.accounts[accountID] = acc
	return acc.Balance, nil
}

func (a memAccounts) DecrementIfCovered(_ context.Context, _ store.Getter, accountID string, amount int64) (int64, error) {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	acc, ok := a.l.accounts[accountID]
	if !ok || acc.Balance < amount {
		return 0, sql.ErrNoRows
	}
	acc.Balance -= amount
	a.l.accounts[accountID] = acc
	return acc.Balance, nil
}

func (a memAccounts) Exists(_ context.Context, _ store.Getter, accountID string) (bool, error) {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	_, ok := a.l.accounts[accountID]
	return ok, nil
}

func (a memAccounts) SetKYCStatus(_ context.Context, _ store.Execer, accountID string, status models.KYCStatus) error {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	acc := a.l.accounts[accountID]
	acc.KYCStatus = status
	a.l.accounts[accountID] = acc
	return nil
}

func (a memAccounts) Append(_ context.Context, _ store.Execer, entry models.WalletEntry) error {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	a.l.journal = append(a.l.journal, entry)
	return nil
}

// listings view

type memListings struct{ l *memLedger }

func (m memListings) Create(_ context.Context, _ store.Execer, listing models.Listing) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	m.l.listings[listing.ID] = listing
	return nil
}

func (m memListings) GetByID(_ context.Context, listingID string) (models.Listing, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	listing, ok := m.l.listings[listingID]
	if !ok {
		return models.Listing{}, sql.ErrNoRows
	}
	return listing, nil
}

func (m memListings) GetForUpdate(ctx context.Context, _ store.Getter, listingID string) (models.Listing, error) {
	return m.GetByID(ctx, listingID)
}

func (m memListings) DecrementAvailable(_ context.Context, _ store.Execer, listingID string, quantity int64) (int64, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	listing, ok := m.l.listings[listingID]
	if !ok || listing.AvailableUnits < quantity {
		return 0, nil
	}
	listing.AvailableUnits -= quantity
	m.l.listings[listingID] = listing
	return 1, nil
}

func (m memListings) ListByStatus(_ context.Context, status models.ListingStatus, limit, offset int) ([]models.Listing, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	var out []models.Listing
	for _, listing := range m.l.listings {
		if listing.Status == status {
			out = append(out, listing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m memListings) ListIDsByStatus(ctx context.Context, status models.ListingStatus) ([]string, error) {
	rows, err := m.ListByStatus(ctx, status, 1<<30, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (m memListings) Transition(_ context.Context, _ store.Execer, listingID string, from, to models.ListingStatus, reason *string) (int64, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	listing, ok := m.l.listings[listingID]
	if !ok || listing.Status != from {
		return 0, nil
	}
	listing.Status = to
	listing.RejectionReason = reason
	m.l.listings[listingID] = listing
	return 1, nil
}

// prices view

type memPrices struct{ l *memLedger }

func (p memPrices) Apply(_ context.Context, _ store.Tx, listingID string, oldPrice, newPrice int64, source string) (string, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	listing, ok := p.l.listings[listingID]
	if !ok {
		return "", sql.ErrNoRows
	}
	if newPrice <= 0 {
		return "", &pq.Error{Code: "23514"}
	}
	listing.Price = newPrice
	p.l.listings[listingID] = listing
	id := "price-" + listingID + "-" + source
	p.l.prices = append(p.l.prices, models.PricePoint{ID: id, ListingID: listingID, OldPrice: oldPrice, NewPrice: newPrice, Source: source})
	return id, nil
}

func (p memPrices) ListByListing(_ context.Context, listingID string, limit int) ([]models.PricePoint, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	var out []models.PricePoint
	for i := len(p.l.prices) - 1; i >= 0 && len(out) < limit; i-- {
		if p.l.prices[i].ListingID == listingID {
			out = append(out, p.l.prices[i])
		}
	}
	return out, nil
}

// transactions view

type memTxs struct{ l *memLedger }

func (m memTxs) Create(_ context.Context, _ store.Execer, t models.Transaction) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if m.l.failCreateWith != nil && t.Kind == m.l.failCreate && (m.l.failCreateFor == "" || m.l.failCreateFor == t.AccountID) {
		return m.l.failCreateWith
	}
	if t.ExternalReference != nil {
		for _, existing := range m.l.txs {
			if existing.ExternalReference != nil && *existing.ExternalReference == *t.ExternalReference {
				return &pq.Error{Code: "23505"}
			}
		}
	}
	m.l.txs[t.ID] = t
	m.l.txOrder = append(m.l.txOrder, t.ID)
	return nil
}

func (m memTxs) GetByID(_ context.Context, transactionID string) (models.Transaction, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	t, ok := m.l.txs[transactionID]
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return t, nil
}

func (m memTxs) GetForUpdate(ctx context.Context, _ store.Getter, transactionID string) (models.Transaction, error) {
	return m.GetByID(ctx, transactionID)
}

func (m memTxs) GetByReferenceForUpdate(_ context.Context, _ store.Getter, reference string) (models.Transaction, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	for _, t := range m.l.txs {
		if t.ExternalReference != nil && *t.ExternalReference == reference {
			return t, nil
		}
	}
	return models.Transaction{}, sql.ErrNoRows
}

func (m memTxs) Resolve(_ context.Context, _ store.Execer, transactionID string, status models.TransactionStatus, reason *string) (int64, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	t, ok := m.l.txs[transactionID]
	if !ok || t.Status != models.StatusPending {
		return 0, nil
	}
	t.Status = status
	if reason != nil {
		t.Reason = reason
	}
	m.l.txs[transactionID] = t
	return 1, nil
}

func (m memTxs) SetReference(_ context.Context, _ store.Execer, transactionID, reference string) (int64, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if m.l.failReference != nil {
		return 0, m.l.failReference
	}
	t, ok := m.l.txs[transactionID]
	if !ok || t.Status != models.StatusPending || t.ExternalReference != nil {
		return 0, nil
	}
	t.ExternalReference = &reference
	m.l.txs[transactionID] = t
	return 1, nil
}

func (m memTxs) HoldingsByListing(_ context.Context, listingID string) ([]models.Holding, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	units := make(map[string]int64)
	for _, t := range m.l.txs {
		if t.ListingID != nil && *t.ListingID == listingID && t.Kind == models.KindPurchase && t.Status == models.StatusSettled && t.Quantity != nil {
			units[t.AccountID] += *t.Quantity
		}
	}
	out := make([]models.Holding, 0, len(units))
	for accountID, n := range units {
		if n > 0 {
			out = append(out, models.Holding{AccountID: accountID, Units: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// dividends view

type memDividends struct{ l *memLedger }

func (d memDividends) CreateBatch(_ context.Context, _ store.Execer, batch models.DividendBatch) (int64, error) {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	for _, existing := range d.l.batches {
		if existing.ListingID == batch.ListingID && existing.BatchKey == batch.BatchKey {
			return 0, nil
		}
	}
	d.l.batches[batch.ID] = batch
	return 1, nil
}

func (d memDividends) GetBatch(_ context.Context, listingID, batchKey string) (models.DividendBatch, error) {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	for _, existing := range d.l.batches {
		if existing.ListingID == listingID && existing.BatchKey == batchKey {
			return existing, nil
		}
	}
	return models.DividendBatch{}, sql.ErrNoRows
}

func (d memDividends) SetBatchStatus(_ context.Context, _ store.Execer, batchID string, status models.BatchStatus) error {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	batch := d.l.batches[batchID]
	batch.Status = status
	d.l.batches[batchID] = batch
	return nil
}

func (d memDividends) HasPayout(_ context.Context, _ store.Getter, batchID, accountID string) (bool, error) {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	_, ok := d.l.payouts[batchID+"|"+accountID]
	return ok, nil
}

func (d memDividends) InsertPayout(_ context.Context, _ store.Execer, payout models.DividendPayout) (int64, error) {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	key := payout.BatchID + "|" + payout.AccountID
	if _, ok := d.l.payouts[key]; ok {
		return 0, nil
	}
	d.l.payouts[key] = payout
	return 1, nil
}

func (d memDividends) ListPayouts(_ context.Context, batchID string) ([]models.DividendPayout, error) {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	var out []models.DividendPayout
	for _, p := range d.l.payouts {
		if p.BatchID == batchID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// kyc view

type memKYC struct{ l *memLedger }

func (k memKYC) Create(_ context.Context, _ store.Execer, sub models.KYCSubmission) error {
	k.l.mu.Lock()
	defer k.l.mu.Unlock()
	for _, existing := range k.l.kyc {
		if existing.AccountID == sub.AccountID && existing.Status == models.SubmissionPending {
			return &pq.Error{Code: "23505"}
		}
	}
	k.l.kyc[sub.ID] = sub
	return nil
}

func (k memKYC) GetForUpdate(_ context.Context, _ store.Getter, submissionID string) (models.KYCSubmission, error) {
	k.l.mu.Lock()
	defer k.l.mu.Unlock()
	sub, ok := k.l.kyc[submissionID]
	if !ok {
		return models.KYCSubmission{}, sql.ErrNoRows
	}
	return sub, nil
}

func (k memKYC) ListByStatus(_ context.Context, status models.KYCSubmissionStatus, _, _ int) ([]models.KYCSubmission, error) {
	k.l.mu.Lock()
	defer k.l.mu.Unlock()
	var out []models.KYCSubmission
	for _, sub := range k.l.kyc {
		if sub.Status == status {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (k memKYC) Review(_ context.Context, _ store.Execer, submissionID string, status models.KYCSubmissionStatus, reviewerID string, note *string) (int64, error) {
	k.l.mu.Lock()
	defer k.l.mu.Unlock()
	sub, ok := k.l.kyc[submissionID]
	if !ok || sub.Status != models.SubmissionPending {
		return 0, nil
	}
	sub.Status = status
	sub.ReviewedBy = &reviewerID
	sub.ReviewNote = note
	k.l.kyc[submissionID] = sub
	return 1, nil
}

// audit view

type memAudit struct{ l *memLedger }

func (a memAudit) Log(_ context.Context, _ store.Execer, _, action, _, _ string, _ map[string]any) error {
	a.l.mu.Lock()
	defer a.l.mu.Unlock()
	a.l.audit = append(a.l.audit, action)
	return nil
}

// hubs

type recordingHub struct {
	mu       sync.Mutex
	balances map[string]int64
	market   []websocket.MarketUpdate
}

func newRecordingHub() *recordingHub {
	return &recordingHub{balances: make(map[string]int64)}
}

func (h *recordingHub) BroadcastBalance(accountID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.balances[accountID] = update.Balance
}

func (h *recordingHub) BroadcastMarket(update websocket.MarketUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.market = append(h.market, update)
}

func (h *recordingHub) lastBalance(accountID string) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.balances[accountID]
	return b, ok
}

type kycPolicy []string

func (p kycPolicy) KYCRequired(operation string) bool {
	for _, op := range p {
		if op == operation {
			return true
		}
	}
	return false
}

type failingProvider struct{ err error }

func (p failingProvider) InitiatePayment(context.Context, payment.Request) (string, error) {
	return "", p.err
}

// countingProvider hands out sequential references and counts requests.
type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) InitiatePayment(context.Context, payment.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return fmt.Sprintf("REF-%d", p.calls), nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// harness wires every service against one memLedger.
type harness struct {
	l         *memLedger
	hub       *recordingHub
	trade     *TradeService
	transfers *TransferService
	dividends *DividendService
	listings  *ListingService
	kyc       *KYCService
}

func newHarness(t *testing.T, policy kycPolicy) *harness {
	t.Helper()
	l := newMemLedger()
	hub := newRecordingHub()
	runner := memTxRunner{l: l}
	accounts := memAccounts{l: l}
	w := wallet.New(accounts, accounts)
	logger := quietLogger()
	h := &harness{l: l, hub: hub}
	h.trade = NewTradeService(TradeDeps{
		TxRunner:      runner,
		AccountStore:  accounts,
		ListingStore:  memListings{l: l},
		PriceStore:    memPrices{l: l},
		TxStore:       memTxs{l: l},
		AuditStore:    memAudit{l: l},
		Wallet:        w,
		BalanceHub:    hub,
		MarketHub:     hub,
		KYC:           policy,
		ImpactPerUnit: decimal.RequireFromString("0.001"),
		Currency:      "XAF",
		Logger:        logger,
	})
	h.transfers = NewTransferService(TransferDeps{
		TxRunner:     runner,
		AccountStore: accounts,
		TxStore:      memTxs{l: l},
		AuditStore:   memAudit{l: l},
		Wallet:       w,
		Provider:     payment.NewSandboxProvider(),
		Guard:        payment.NewGuard(nil, 0),
		Hub:          hub,
		KYC:          policy,
		Currency:     "XAF",
		Logger:       logger,
	})
	h.dividends = NewDividendService(DividendDeps{
		TxRunner:      runner,
		ListingStore:  memListings{l: l},
		HoldingsStore: memTxs{l: l},
		DividendStore: memDividends{l: l},
		TxStore:       memTxs{l: l},
		AuditStore:    memAudit{l: l},
		Wallet:        w,
		Hub:           hub,
		Currency:      "XAF",
		Logger:        logger,
	})
	h.listings = NewListingService(runner, accounts, memListings{l: l}, memPrices{l: l}, memAudit{l: l}, logger)
	h.kyc = NewKYCService(runner, accounts, memKYC{l: l}, memAudit{l: l}, logger)
	return h
}

var errInjected = errors.New("injected failure")
