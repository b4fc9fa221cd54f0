package services

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
	"github.com/krshsl/interview-engine/testutil"
	ws "github.com/krshsl/interview-engine/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []ws.Event
}

func (n *recordingNotifier) SendToUser(userID string, event ws.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	repo     *repository.GORMRepository
	db       *gorm.DB
	store    *cache.RedisStore
	mr       *miniredis.Miniredis
	ledger   *CreditLedger
	sessions *SessionService
	pairing  *PairingBroker
	events   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, db := testutil.NewRepository(t)
	store, mr := testutil.NewStore(t)
	events := &recordingNotifier{}
	ledger := NewCreditLedger(repo)
	sessions := NewSessionService(repo, ledger, store, events)
	return &fixture{
		repo:     repo,
		db:       db,
		store:    store,
		mr:       mr,
		ledger:   ledger,
		sessions: sessions,
		pairing:  NewPairingBroker(repo, store, sessions),
		events:   events,
	}
}

func (f *fixture) newSession(t *testing.T, userID string) *models.Session {
	t.Helper()
	session, err := f.sessions.Create(context.Background(), userID, SessionParams{JobTitle: "Backend Engineer"})
	require.NoError(t, err)
	return session
}

func (f *fixture) reload(t *testing.T, sessionID string) *models.Session {
	t.Helper()
	session, err := f.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}

func requireCode(t *testing.T, err error, code string) *AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := err.(*AppError)
	require.Truef(t, ok, "expected *AppError, got %T: %v", err, err)
	require.Equal(t, code, appErr.Code)
	return appErr
}
