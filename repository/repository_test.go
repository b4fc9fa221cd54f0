package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
	"github.com/krshsl/interview-engine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDebitCredits_GuardedByBalance(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 2)

	ok, err := repo.DebitCredits(ctx, user.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "debit larger than balance must not apply")
	assert.Equal(t, 2, testutil.Credits(t, db, user.ID))

	ok, err = repo.DebitCredits(ctx, user.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, testutil.Credits(t, db, user.ID))

	ok, err = repo.DebitCredits(ctx, user.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDebitCredits_UnknownUser(t *testing.T) {
	repo, _ := testutil.NewRepository(t)

	ok, err := repo.DebitCredits(context.Background(), "00000000-0000-0000-0000-000000000000", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddCredits(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 5)

	ok, err := repo.AddCredits(ctx, user.ID, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	credits, found, err := repo.GetUserCredits(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 105, credits)

	ok, err = repo.AddCredits(ctx, "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err = repo.GetUserCredits(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 3)

	err := repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		ok, err := tx.DebitCredits(ctx, user.ID, 1)
		require.NoError(t, err)
		require.True(t, ok)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 3, testutil.Credits(t, db, user.ID))
}

func TestUpdateSessionIfStatus(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 0)

	session := &models.Session{UserID: user.ID, Status: models.SessionCreated, JobTitle: "Backend Engineer"}
	require.NoError(t, repo.CreateSession(ctx, session))

	ok, err := repo.UpdateSessionIfStatus(ctx, session.ID, user.ID, models.SessionActive, map[string]interface{}{"status": models.SessionPaused})
	require.NoError(t, err)
	assert.False(t, ok, "status guard must reject a stale from-status")

	ok, err = repo.UpdateSessionIfStatus(ctx, session.ID, "someone-else", models.SessionCreated, map[string]interface{}{"status": models.SessionCancelled})
	require.NoError(t, err)
	assert.False(t, ok, "ownership guard must reject other users")

	ok, err = repo.UpdateSessionIfStatus(ctx, session.ID, user.ID, models.SessionCreated, map[string]interface{}{"status": models.SessionCancelled})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status)

	missing, err := repo.GetUserSession(ctx, session.ID, "someone-else")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteSessionIfStatus(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 0)

	session := &models.Session{UserID: user.ID, Status: models.SessionActive}
	require.NoError(t, repo.CreateSession(ctx, session))

	ok, err := repo.DeleteSessionIfStatus(ctx, session.ID, user.ID, models.SessionCreated)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.DeleteSessionIfStatus(ctx, session.ID, user.ID, models.SessionCreated, models.SessionActive)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPayments_CompleteIsGuarded(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 0)

	payment := &models.Payment{
		UserID:                user.ID,
		Processor:             models.ProcessorStripe,
		StripePaymentIntentID: strPtr("pi_123"),
		PackageID:             "starter",
		Credits:               10,
		Amount:                999,
		Currency:              "usd",
		Status:                models.PaymentPending,
	}
	require.NoError(t, repo.CreatePayment(ctx, payment))

	got, err := repo.GetPaymentByReference(ctx, models.ProcessorStripe, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payment.ID, got.ID)

	none, err := repo.GetPaymentByReference(ctx, models.ProcessorCashfree, "pi_123")
	require.NoError(t, err)
	assert.Nil(t, none)

	ok, err := repo.CompletePayment(ctx, payment.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompletePayment(ctx, payment.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second completion must affect zero rows")

	ok, err = repo.FailPayment(ctx, payment.ID, models.PaymentFailed, "card_declined")
	require.NoError(t, err)
	assert.False(t, ok, "completed payments are final")
}

func TestPayments_DuplicateReference(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 0)

	newPayment := func() *models.Payment {
		return &models.Payment{
			UserID:          user.ID,
			Processor:       models.ProcessorCashfree,
			CashfreeOrderID: strPtr("order_1"),
			PackageID:       "starter",
			Credits:         10,
			Amount:          49900,
			Currency:        "INR",
			Status:          models.PaymentPending,
		}
	}
	require.NoError(t, repo.CreatePayment(ctx, newPayment()))

	err := repo.CreatePayment(ctx, newPayment())
	require.Error(t, err)
	assert.True(t, repository.IsUniqueViolation(err))
}

func TestUpsertPackage(t *testing.T) {
	repo, _ := testutil.NewRepository(t)
	ctx := context.Background()

	pkg := &models.CreditPackage{ID: "pro", Name: "Pro", Credits: 100, Amount: 4999, Currency: "usd", IsActive: true}
	require.NoError(t, repo.UpsertPackage(ctx, pkg))

	pkg.Credits = 120
	require.NoError(t, repo.UpsertPackage(ctx, pkg))

	got, err := repo.GetActivePackage(ctx, "pro")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 120, got.Credits)

	require.NoError(t, repo.UpsertPackage(ctx, &models.CreditPackage{ID: "legacy", Name: "Legacy", Credits: 5, Amount: 100, Currency: "usd"}))
	packages, err := repo.ListActivePackages(ctx)
	require.NoError(t, err)
	assert.Len(t, packages, 1)
}

func TestMessagesAndDetach(t *testing.T) {
	repo, db := testutil.NewRepository(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, 0)

	session := &models.Session{UserID: user.ID, Status: models.SessionActive}
	require.NoError(t, repo.CreateSession(ctx, session))
	require.NoError(t, repo.SaveMessage(ctx, &models.Message{UserID: user.ID, SessionID: session.ID, Role: models.MessageRoleUser, Content: "hello"}))
	require.NoError(t, repo.CreateCreditTransaction(ctx, &models.CreditTransaction{
		UserID: user.ID, SessionID: &session.ID, Amount: -1, Type: models.TransactionUsage,
	}))

	msgs, err := repo.GetMessagesBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	n, err := repo.DeleteSessionMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.DetachSessionTransactions(ctx, session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	txns, err := repo.ListSessionTransactions(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}
