package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// fakeCloud is an in-memory sync service for engine tests.
type fakeCloud struct {
	mu       sync.Mutex
	sessions []PushSession
	salt     string

	// quotaAfter rejects pushes once this many sessions are stored; -1
	// disables quota entirely.
	quotaAfter int
	// tooLargeID rejects any batch containing this session id with a 413.
	tooLargeID string
	// failPushes answers the first N /push calls with a 500.
	failPushes int

	pushCalls int
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{quotaAfter: -1}
}

func (f *fakeCloud) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/push", f.handlePush)
	mux.HandleFunc("/pull", f.handlePull)
	mux.HandleFunc("/salt", f.handleSalt)
	return mux
}

func (f *fakeCloud) handlePush(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls++
	if f.pushCalls <= f.failPushes {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	var body struct {
		Sessions []PushSession `json:"sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, s := range body.Sessions {
		if s.ID == f.tooLargeID {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
	}
	if f.quotaAfter >= 0 && len(f.sessions)+len(body.Sessions) > f.quotaAfter {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(QuotaError{
			Message: "Would exceed session limit",
			Details: QuotaDetails{
				Current:   len(f.sessions),
				Limit:     f.quotaAfter,
				Requested: len(body.Sessions),
				Available: f.quotaAfter - len(f.sessions),
				Plan:      "free",
			},
		})
		return
	}

	f.sessions = append(f.sessions, body.Sessions...)
	json.NewEncoder(w).Encode(PushResponse{
		SyncedCount: len(body.Sessions),
		ServerTime:  time.Now().UTC(),
	})
}

func (f *fakeCloud) handlePull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	json.NewEncoder(w).Encode(PullResponse{
		Sessions:   f.sessions,
		ServerTime: time.Now().UTC(),
	})
}

func (f *fakeCloud) handleSalt(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(map[string]string{"salt": f.salt})
	case http.MethodPost:
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.salt = body["salt"]
	}
}

func (f *fakeCloud) stored() []PushSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PushSession, len(f.sessions))
	copy(out, f.sessions)
	return out
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveKey("correct horse battery", []byte("0123456789abcdef"))
	require.NoError(t, err)
	return key
}

func newTestEngine(t *testing.T, cloud *fakeCloud, machineID uuid.UUID) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(cloud.handler())
	t.Cleanup(srv.Close)

	engine := NewEngine(st, NewClient(srv.URL, "tok"), testKey(t),
		&Identity{ID: machineID, Name: "test-machine"})
	return engine, st
}

// seedSession writes one unsynced session with a question/answer exchange.
func seedSession(t *testing.T, st *store.Store, n int) model.Session {
	t.Helper()
	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
	ended := started.Add(10 * time.Minute)
	sess := model.Session{
		ID:               model.DeriveUUID(fmt.Sprintf("sync-test-%d", n)),
		Tool:             "claude-code",
		StartedAt:        started,
		EndedAt:          &ended,
		WorkingDirectory: "/home/dev/project",
		SourcePath:       fmt.Sprintf("/fake/%d.jsonl", n),
		MessageCount:     2,
	}
	msgs := []model.Message{
		{
			ID: model.DeriveUUID(fmt.Sprintf("sync-test-%d/0", n)), SessionID: sess.ID,
			Index: 0, Timestamp: started, Role: model.RoleUser,
			Content: model.TextContent("q"),
		},
		{
			ID: model.DeriveUUID(fmt.Sprintf("sync-test-%d/1", n)), SessionID: sess.ID,
			Index: 1, Timestamp: started.Add(time.Minute), Role: model.RoleAssistant,
			Content: model.TextContent("ans"),
		},
	}
	require.NoError(t, st.ImportSessionWithMessages(&sess, msgs, nil))
	return sess
}

func TestPushMarksSyncedAfterAck(t *testing.T) {
	cloud := newFakeCloud()
	engine, st := newTestEngine(t, cloud, uuid.New())

	seedSession(t, st, 0)
	seedSession(t, st, 1)

	result, err := engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pushed)
	assert.False(t, result.QuotaHit)
	assert.Len(t, cloud.stored(), 2)

	unsynced, err := st.GetUnsyncedSessions()
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	// Nothing left: a second push is a no-op.
	result, err = engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pushed)
}

func TestPushEncryptsMessageContent(t *testing.T) {
	cloud := newFakeCloud()
	engine, st := newTestEngine(t, cloud, uuid.New())
	sess := seedSession(t, st, 0)

	_, err := engine.Push(context.Background())
	require.NoError(t, err)

	stored := cloud.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, sess.ID.String(), stored[0].ID)
	assert.Equal(t, "claude-code", stored[0].Metadata.ToolName)
	assert.Equal(t, 2, stored[0].Metadata.MessageCount)

	// The wire payload must not leak message text.
	assert.NotContains(t, stored[0].EncryptedData, "ans")
	plaintext, err := Decrypt(testKey(t), stored[0].EncryptedData)
	require.NoError(t, err)
	assert.Contains(t, string(plaintext), "ans")
}

func TestPushQuotaStopsWithoutFailing(t *testing.T) {
	cloud := newFakeCloud()
	cloud.quotaAfter = 0 // every push over quota
	engine, st := newTestEngine(t, cloud, uuid.New())

	for i := 0; i < 5; i++ {
		seedSession(t, st, i)
	}

	result, err := engine.Push(context.Background())
	require.NoError(t, err)
	assert.True(t, result.QuotaHit)
	assert.Equal(t, 0, result.Pushed)
	require.NotNil(t, result.Quota)
	assert.Equal(t, "free", result.Quota.Plan)

	// Nothing was marked synced; all five retry next run.
	unsynced, err := st.GetUnsyncedSessions()
	require.NoError(t, err)
	assert.Len(t, unsynced, 5)
}

func TestPush413RetriesIndividually(t *testing.T) {
	cloud := newFakeCloud()
	engine, st := newTestEngine(t, cloud, uuid.New())

	a := seedSession(t, st, 0)
	b := seedSession(t, st, 1)
	cloud.tooLargeID = a.ID.String()

	result, err := engine.Push(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pushed)
	require.Len(t, result.TooLarge, 1)
	assert.Equal(t, a.ID, result.TooLarge[0])

	stored := cloud.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, b.ID.String(), stored[0].ID)

	// The oversized session stays unsynced.
	unsynced, err := st.GetUnsyncedSessions()
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, a.ID, unsynced[0].ID)
}

func TestPushContinuesPastFailedBatch(t *testing.T) {
	cloud := newFakeCloud()
	cloud.failPushes = 1
	engine, st := newTestEngine(t, cloud, uuid.New())

	// Two batches of three; the server 500s the first.
	for i := 0; i < 6; i++ {
		seedSession(t, st, i)
	}

	result, err := engine.Push(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "HTTP 500")
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Pushed)
	require.Len(t, result.Errors, 1)
	assert.Len(t, cloud.stored(), 3)

	// The failed batch stays unsynced and lands on the next run.
	unsynced, err := st.GetUnsyncedSessions()
	require.NoError(t, err)
	require.Len(t, unsynced, 3)

	result, err = engine.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pushed)
	assert.Empty(t, result.Errors)
}

func TestPushPullRoundTrip(t *testing.T) {
	cloud := newFakeCloud()
	machineA := uuid.New()
	machineB := uuid.New()

	engineA, stA := newTestEngine(t, cloud, machineA)
	sess := seedSession(t, stA, 0)

	pushResult, err := engineA.Push(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, pushResult.Pushed)

	engineB, stB := newTestEngine(t, cloud, machineB)
	pullResult, err := engineB.Pull(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, pullResult.Imported)

	got, err := stB.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Tool, got.Tool)
	assert.Equal(t, sess.WorkingDirectory, got.WorkingDirectory)
	assert.Equal(t, sess.MessageCount, got.MessageCount)
	assert.Equal(t, machineA.String(), got.MachineID)
	assert.True(t, sess.StartedAt.Equal(got.StartedAt))

	wantMsgs, err := stA.GetMessages(sess.ID)
	require.NoError(t, err)
	gotMsgs, err := stB.GetMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, gotMsgs, len(wantMsgs))
	for i := range wantMsgs {
		assert.Equal(t, wantMsgs[i].ID, gotMsgs[i].ID)
		assert.Equal(t, wantMsgs[i].Role, gotMsgs[i].Role)
		assert.Equal(t, wantMsgs[i].Content.PlainText(), gotMsgs[i].Content.PlainText())
	}
}

func TestPullSkipsOwnMachine(t *testing.T) {
	cloud := newFakeCloud()
	machineA := uuid.New()

	engineA, stA := newTestEngine(t, cloud, machineA)
	seedSession(t, stA, 0)
	_, err := engineA.Push(context.Background())
	require.NoError(t, err)

	// Same machine pulls its own session back: skipped, not reimported.
	engineA2, stA2 := newTestEngine(t, cloud, machineA)
	result, err := engineA2.Pull(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 1, result.SkippedOwn)

	sessions, err := stA2.ListSessions(10, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestPullNewerWins(t *testing.T) {
	cloud := newFakeCloud()
	machineA := uuid.New()
	machineB := uuid.New()

	engineA, stA := newTestEngine(t, cloud, machineA)
	sess := seedSession(t, stA, 0)
	_, err := engineA.Push(context.Background())
	require.NoError(t, err)

	// Machine B already holds the identical copy: not newer, skipped.
	engineB, stB := newTestEngine(t, cloud, machineB)
	_, err = engineB.Pull(context.Background(), true)
	require.NoError(t, err)

	result, err := engineB.Pull(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 1, result.SkippedOlder)

	// A grows the session and pushes again: B's next pull takes it.
	extra := model.Message{
		ID: model.DeriveUUID("sync-test-0/2"), SessionID: sess.ID,
		Index: 2, Timestamp: sess.StartedAt.Add(2 * time.Minute),
		Role: model.RoleAssistant, Content: model.TextContent("more detail"),
	}
	later := sess.StartedAt.Add(time.Hour)
	grown := sess
	grown.EndedAt = &later
	grown.MessageCount = 3
	require.NoError(t, stA.ImportSessionWithMessages(&grown, []model.Message{extra}, nil))
	_, err = stA.ClearSyncStatus()
	require.NoError(t, err)
	cloud.mu.Lock()
	cloud.sessions = nil
	cloud.mu.Unlock()
	_, err = engineA.Push(context.Background())
	require.NoError(t, err)

	result, err = engineB.Pull(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	msgs, err := stB.GetMessages(sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestPullCountsDecryptFailures(t *testing.T) {
	cloud := newFakeCloud()
	machineA := uuid.New()

	// A session encrypted under a different key lands in the cloud.
	otherKey, err := DeriveKey("another passphrase!", []byte("fedcba9876543210"))
	require.NoError(t, err)
	data, err := Encrypt(otherKey, []byte(`[]`))
	require.NoError(t, err)
	cloud.sessions = []PushSession{{
		ID:            uuid.New().String(),
		MachineID:     uuid.New().String(),
		EncryptedData: data,
		Metadata:      SessionMetadata{ToolName: "codex", StartedAt: time.Now().UTC(), MessageCount: 1},
	}}

	engine, st := newTestEngine(t, cloud, machineA)
	result, err := engine.Pull(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 1, result.DecryptFailed)

	sessions, err := st.ListSessions(10, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSyncPullFailureIsNonFatal(t *testing.T) {
	cloud := newFakeCloud()
	engine, st := newTestEngine(t, cloud, uuid.New())
	seedSession(t, st, 0)

	// Break pull only.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pull" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		cloud.handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	engine.client = NewClient(srv.URL, "tok")

	result, err := engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Error(t, result.PullErr)
	require.NotNil(t, result.Push)
	assert.Equal(t, 1, result.Push.Pushed)
}

func TestResetSync(t *testing.T) {
	cloud := newFakeCloud()
	engine, st := newTestEngine(t, cloud, uuid.New())
	a := seedSession(t, st, 0)
	seedSession(t, st, 1)

	_, err := engine.Push(context.Background())
	require.NoError(t, err)

	n, err := engine.ResetSync([]uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unsynced, err := st.GetUnsyncedSessions()
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, a.ID, unsynced[0].ID)

	n, err = engine.ResetSync(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unsynced, err = st.GetUnsyncedSessions()
	require.NoError(t, err)
	assert.Len(t, unsynced, 2)
}
