package settlement

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"materials-backend/internal/config"
	"materials-backend/internal/gateway"
	"materials-backend/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settlement.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

// fakeGateway serves canned verifications and records payout calls.
type fakeGateway struct {
	mu           sync.Mutex
	transactions map[string]*gateway.Transaction
	verifyCalls  int
	initialized  []gateway.InitializeRequest

	resolveErr   error
	recipientErr error
	transferErr  error
	transfer     gateway.Transfer
	transfers    []string

	// existing transfers by reference, for VerifyTransfer
	sent              map[string]gateway.Transfer
	verifyTransferErr error

	// when set, VerifyTransaction signals verifyStarted and blocks on verifyHold
	verifyStarted chan struct{}
	verifyHold    chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		transactions: make(map[string]*gateway.Transaction),
		transfer:     gateway.Transfer{Status: "pending", TransferCode: "TRF_pending"},
		sent:         make(map[string]gateway.Transfer),
	}
}

func (f *fakeGateway) charge(t *testing.T, reference string, amount int64, meta interface{}) {
	t.Helper()
	raw, err := json.Marshal(meta)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[reference] = &gateway.Transaction{
		ID:        "9001",
		Reference: reference,
		Status:    gateway.StatusSuccess,
		Amount:    amount,
		Metadata:  raw,
	}
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*gateway.Transaction, error) {
	if f.verifyHold != nil {
		f.verifyStarted <- struct{}{}
		<-f.verifyHold
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	tx, ok := f.transactions[reference]
	if !ok {
		return nil, &gateway.APIError{Provider: "fake", StatusCode: 404, Message: "Transaction reference not found"}
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeGateway) InitializeTransaction(_ context.Context, req gateway.InitializeRequest) (*gateway.Initialization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = append(f.initialized, req)
	return &gateway.Initialization{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (f *fakeGateway) ListBanks(context.Context) ([]gateway.Bank, error) {
	return []gateway.Bank{{Name: "Test Bank", Code: "058"}}, nil
}

func (f *fakeGateway) ResolveAccount(_ context.Context, accountNumber, _ string) (*gateway.ResolvedAccount, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &gateway.ResolvedAccount{AccountName: "ADA OBI", AccountNumber: accountNumber}, nil
}

func (f *fakeGateway) CreateTransferRecipient(context.Context, string, string, string) (string, error) {
	if f.recipientErr != nil {
		return "", f.recipientErr
	}
	return "RCP_test", nil
}

func (f *fakeGateway) InitiateTransfer(ctx context.Context, _ int64, _, reference, _ string) (*gateway.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, reference)
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	tr := f.transfer
	tr.Reference = reference
	f.sent[reference] = tr
	return &tr, nil
}

func (f *fakeGateway) VerifyTransfer(_ context.Context, reference string) (*gateway.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyTransferErr != nil {
		return nil, f.verifyTransferErr
	}
	tr, ok := f.sent[reference]
	if !ok {
		return nil, &gateway.APIError{Provider: "fake", StatusCode: 404, Message: "Transfer not found"}
	}
	return &tr, nil
}

type fixture struct {
	db          *gorm.DB
	gw          *fakeGateway
	engine      *Engine
	withdrawals *WithdrawalManager

	owner, coAuthor, referrer, buyer models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	gw := newFakeGateway()
	logger := zap.NewNop()
	engine := NewEngine(db, gw, nil, nil, logger)

	f := &fixture{
		db:          db,
		gw:          gw,
		engine:      engine,
		withdrawals: NewWithdrawalManager(db, engine, gw, 1000, logger),
		owner:       models.User{RoleID: models.RoleAuthor, FullName: "Owner", Email: "owner@example.com"},
		coAuthor:    models.User{RoleID: models.RoleAuthor, FullName: "Co Author", Email: "co@example.com"},
		referrer:    models.User{RoleID: models.RoleBuyer, FullName: "Referrer", Email: "ref@example.com"},
		buyer:       models.User{RoleID: models.RoleBuyer, FullName: "Buyer", Email: "buyer@example.com"},
	}
	for _, u := range []*models.User{&f.owner, &f.coAuthor, &f.referrer, &f.buyer} {
		require.NoError(t, db.Create(u).Error)
	}
	return f
}

func (f *fixture) material(t *testing.T, price int64, equityPercent string) models.Material {
	t.Helper()
	m := models.Material{Title: "Organic Chemistry Notes", Price: price, OwnerID: f.owner.ID}
	if equityPercent != "" {
		coID := f.coAuthor.ID
		m.CoAuthorID = &coID
		m.CoAuthorAccepted = true
		m.EquityPercent = decimal.NewNullDecimal(decimal.RequireFromString(equityPercent))
	}
	require.NoError(t, f.db.Create(&m).Error)
	return m
}

func (f *fixture) referralCode(t *testing.T, code string, materialID uint64, percent string) models.ReferralCode {
	t.Helper()
	rc := models.ReferralCode{
		Code:              code,
		MaterialID:        materialID,
		ReferrerID:        f.referrer.ID,
		CommissionPercent: decimal.RequireFromString(percent),
	}
	require.NoError(t, f.db.Create(&rc).Error)
	return rc
}

func (f *fixture) balance(t *testing.T, userID uint64) int64 {
	t.Helper()
	var w models.Wallet
	require.NoError(t, f.db.Where("user_id = ?", userID).Limit(1).Find(&w).Error)
	return w.Balance
}

func (f *fixture) ledger(t *testing.T, userID uint64) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("id").Find(&rows).Error)
	return rows
}

func (f *fixture) fund(t *testing.T, userID uint64, amount int64) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return newUnitOfWork(tx, "seed").Credit(Entry{UserID: userID, Type: models.TxSale, Amount: amount})
	})
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func purchaseMeta(materialID, userID uint64, referral string) map[string]interface{} {
	m := map[string]interface{}{"materialId": materialID, "userId": userID}
	if referral != "" {
		m["referralCode"] = referral
	}
	return m
}

// fundDebit simulates spending that happened elsewhere.
func (f *fixture) fundDebit(t *testing.T, userID uint64, amount int64) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return newUnitOfWork(tx, "spend").Debit(Entry{UserID: userID, Type: models.TxWithdrawal, Amount: amount})
	})
	require.NoError(t, err)
}
