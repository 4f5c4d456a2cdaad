package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/studydesk/internal/model/chat"
	chatservice "github.com/zhouzirui/studydesk/internal/service/chat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "studydesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateSession(ctx, chat.Session{ID: "s1", Name: "Physics", CreatedAt: created, UpdatedAt: created}))
	assert.ErrorIs(t, store.CreateSession(ctx, chat.Session{ID: "s1", Name: "dup"}), chatservice.ErrSessionExists)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Physics", got.Name)
	assert.True(t, created.Equal(got.CreatedAt))

	got.Name = "Quantum physics"
	got.UpdatedAt = created.Add(time.Hour)
	require.NoError(t, store.UpdateSession(ctx, got))

	again, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Quantum physics", again.Name)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	assert.ErrorIs(t, store.UpdateSession(ctx, chat.Session{ID: "missing"}), chatservice.ErrSessionNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateSession(ctx, chat.Session{ID: "old", Name: "old", CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, store.CreateSession(ctx, chat.Session{ID: "new", Name: "new", CreatedAt: base, UpdatedAt: base.Add(time.Minute)}))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
	assert.Equal(t, "old", sessions[1].ID)
}

func TestTranscriptAppendTruncateDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, chat.Session{ID: "s1", Name: "x"}))
	for i, content := range []string{"q1", "a1", "q2", "a2"} {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		require.NoError(t, store.AppendMessage(ctx, chat.StoredMessage{
			ID:        content,
			SessionID: "s1",
			Role:      role,
			Content:   content,
			CreatedAt: time.Now(),
		}))
	}
	assert.ErrorIs(t, store.AppendMessage(ctx, chat.StoredMessage{ID: "x", SessionID: "nope"}), chatservice.ErrSessionNotFound)

	transcript, err := store.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, transcript, 4)
	assert.Equal(t, chat.RoleAssistant, transcript[3].Role)

	require.NoError(t, store.TruncateTranscript(ctx, "s1", 2))
	transcript, err = store.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "a1", transcript[1].Content)

	require.NoError(t, store.TruncateTranscript(ctx, "s1", 0))
	transcript, err = store.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, transcript)

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	assert.ErrorIs(t, store.DeleteSession(ctx, "s1"), chatservice.ErrSessionNotFound)
	_, err = store.LoadTranscript(ctx, "s1")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestServiceOnSQLite(t *testing.T) {
	svc := chatservice.NewService(openTestStore(t))
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, chat.CreateConversationRequest{Name: "Chemistry"})
	require.NoError(t, err)

	turn, err := svc.SubmitTurn(ctx, conv.SessionID, chat.StreamRequest{Message: "what is a mole?", MessageID: "u1"})
	require.NoError(t, err)
	_, err = svc.TakeTurn(conv.SessionID, "u1")
	require.NoError(t, err)
	_, err = svc.SaveReply(ctx, turn, "6.022e23 particles")
	require.NoError(t, err)

	// retrying the same message id replaces the old exchange
	_, err = svc.SubmitTurn(ctx, conv.SessionID, chat.StreamRequest{Message: "what is a mole?", MessageID: "u1"})
	require.NoError(t, err)

	got, err := svc.GetConversation(ctx, conv.SessionID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "u1", got.Messages[0].ID)
}

func TestIsConstraintUsesResultCode(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, chat.Session{ID: "s1", Name: "x"}))
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, model, created_at, updated_at) VALUES ('s1', 'y', '', 0, 0)`)
	require.Error(t, err)
	assert.True(t, isConstraint(err))

	_, err = store.db.ExecContext(ctx, `SELEKT 1`)
	require.Error(t, err)
	assert.False(t, isConstraint(err), "syntax errors are not constraint violations")

	assert.False(t, isConstraint(errors.New("UNIQUE constraint failed: sessions.id")))
}
