package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// pushBatchSize is how many sessions travel per /push call.
const pushBatchSize = 3

// encryptQueueDepth bounds the encrypt→upload channel so a slow network
// applies backpressure to the encryption side instead of buffering the
// whole store in memory.
const encryptQueueDepth = 8

// Engine drives push, pull and full sync between the store and the cloud.
type Engine struct {
	store    *store.Store
	client   *Client
	key      []byte
	identity *Identity
}

// NewEngine wires a sync engine. The key must already be derived.
func NewEngine(st *store.Store, client *Client, key []byte, identity *Identity) *Engine {
	return &Engine{store: st, client: client, key: key, identity: identity}
}

// PushResult tallies one push run. Errors holds per-batch upload failures;
// the run continues past them and reports them all at the end.
type PushResult struct {
	Pushed     int
	TooLarge   []uuid.UUID
	QuotaHit   bool
	Quota      *QuotaDetails
	Unsynced   int
	Errors     []error
	ServerTime *time.Time
}

// PullResult tallies one pull run.
type PullResult struct {
	Imported      int
	SkippedOwn    int
	SkippedOlder  int
	DecryptFailed int
	ServerTime    *time.Time
}

// SyncResult combines a pull and a push.
type SyncResult struct {
	Pull    *PullResult
	PullErr error
	Push    *PushResult
}

type encryptedSession struct {
	session model.Session
	wire    PushSession
}

// Push uploads every unsynced session. Encryption runs in its own goroutine
// feeding a bounded channel; the caller's goroutine batches and uploads.
// Sessions are marked synced only after the server acknowledges them. A
// quota rejection stops the run without failing it; the remainder stays
// unsynced for next time. Other server errors fail only their batch: the
// run continues and the collected errors come back joined at the end.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	sessions, err := e.store.GetUnsyncedSessions()
	if err != nil {
		return nil, err
	}
	result := &PushResult{Unsynced: len(sessions)}
	if len(sessions) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	encrypted := make(chan encryptedSession, encryptQueueDepth)
	errc := make(chan error, 1)
	go func() {
		defer close(encrypted)
		for _, sess := range sessions {
			wire, err := e.encryptSession(&sess)
			if err != nil {
				// Never upload unencrypted; a crypto failure kills the run.
				errc <- fmt.Errorf("encrypting session %s: %w", sess.ID, err)
				return
			}
			select {
			case encrypted <- encryptedSession{session: sess, wire: *wire}:
			case <-ctx.Done():
				return
			}
		}
	}()

	batch := make([]encryptedSession, 0, pushBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		done, err := e.pushBatch(ctx, batch, result)
		batch = batch[:0]
		if err != nil {
			return err
		}
		if done {
			cancel()
		}
		return nil
	}

	for es := range encrypted {
		if result.QuotaHit {
			continue
		}
		batch = append(batch, es)
		if len(batch) == pushBatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	select {
	case err := <-errc:
		return result, err
	default:
	}
	if err := ctx.Err(); err != nil && !result.QuotaHit {
		return result, err
	}
	if !result.QuotaHit {
		if err := flush(); err != nil {
			return result, err
		}
	}

	result.Unsynced -= result.Pushed
	return result, errors.Join(result.Errors...)
}

// pushBatch uploads one batch, falling back to per-session uploads on a 413
// so a single oversized session cannot block the rest. It reports done=true
// when a quota rejection should end the run.
func (e *Engine) pushBatch(ctx context.Context, batch []encryptedSession, result *PushResult) (bool, error) {
	wire := make([]PushSession, len(batch))
	for i, es := range batch {
		wire[i] = es.wire
	}

	resp, err := e.client.Push(ctx, wire)
	if err == nil {
		return false, e.ack(batch, resp, result)
	}

	var quota *QuotaError
	if errors.As(err, &quota) {
		result.QuotaHit = true
		result.Quota = &quota.Details
		return true, nil
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		// Server trouble fails this batch only; later batches may land.
		slog.Warn("batch upload failed, continuing", "sessions", len(batch), "error", err)
		result.Errors = append(result.Errors, fmt.Errorf("uploading batch of %d: %w", len(batch), err))
		return false, nil
	}

	// Batch too large: retry one by one and record the stragglers.
	for _, es := range batch {
		resp, err := e.client.Push(ctx, []PushSession{es.wire})
		if errors.Is(err, ErrPayloadTooLarge) {
			slog.Warn("session too large, skipped", "session", es.session.ID)
			result.TooLarge = append(result.TooLarge, es.session.ID)
			continue
		}
		if errors.As(err, &quota) {
			result.QuotaHit = true
			result.Quota = &quota.Details
			return true, nil
		}
		if err != nil {
			slog.Warn("session upload failed, continuing", "session", es.session.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("uploading session %s: %w", es.session.ID, err))
			continue
		}
		if err := e.ack([]encryptedSession{es}, resp, result); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (e *Engine) ack(batch []encryptedSession, resp *PushResponse, result *PushResult) error {
	ids := make([]uuid.UUID, len(batch))
	for i, es := range batch {
		ids[i] = es.session.ID
	}
	serverTime := resp.ServerTime
	if serverTime.IsZero() {
		serverTime = time.Now().UTC()
	}
	if err := e.store.MarkSessionsSynced(ids, serverTime); err != nil {
		return err
	}
	result.Pushed += len(batch)
	result.ServerTime = &serverTime
	return nil
}

// encryptSession serializes the session's messages and seals them. Metadata
// stays cleartext for quota enforcement and listings.
func (e *Engine) encryptSession(sess *model.Session) (*PushSession, error) {
	msgs, err := e.store.GetMessages(sess.ID)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("serializing messages: %w", err)
	}
	data, err := Encrypt(e.key, plaintext)
	if err != nil {
		return nil, err
	}

	machineID := sess.MachineID
	if machineID == "" {
		machineID = e.identity.ID.String()
	}
	updatedAt := sess.StartedAt
	if sess.EndedAt != nil {
		updatedAt = *sess.EndedAt
	}
	return &PushSession{
		ID:            sess.ID.String(),
		MachineID:     machineID,
		EncryptedData: data,
		Metadata: SessionMetadata{
			ToolName:     sess.Tool,
			ProjectPath:  sess.WorkingDirectory,
			StartedAt:    sess.StartedAt.UTC(),
			EndedAt:      sess.EndedAt,
			MessageCount: sess.MessageCount,
		},
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// Pull downloads remote sessions changed since the last sync and imports
// the ones this machine doesn't have (or has an older copy of). Decrypt
// failures are counted, never fatal: one bad passphrase on another machine
// must not block the rest of the account.
func (e *Engine) Pull(ctx context.Context, full bool) (*PullResult, error) {
	var since *time.Time
	if !full {
		last, err := e.store.LastSyncTime()
		if err != nil {
			return nil, err
		}
		since = last
	}

	resp, err := e.client.Pull(ctx, since)
	if err != nil {
		return nil, err
	}

	result := &PullResult{}
	if !resp.ServerTime.IsZero() {
		result.ServerTime = &resp.ServerTime
	}
	for _, remote := range resp.Sessions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		switch applied, reason := e.applyRemote(&remote, resp.ServerTime); {
		case applied:
			result.Imported++
		case reason == skipOwn:
			result.SkippedOwn++
		case reason == skipOlder:
			result.SkippedOlder++
		case reason == skipDecrypt:
			result.DecryptFailed++
		}
	}
	return result, nil
}

type skipReason int

const (
	skipNone skipReason = iota
	skipOwn
	skipOlder
	skipDecrypt
)

func (e *Engine) applyRemote(remote *PushSession, serverTime time.Time) (bool, skipReason) {
	if remote.MachineID == e.identity.ID.String() {
		return false, skipOwn
	}
	id, err := uuid.Parse(remote.ID)
	if err != nil {
		slog.Debug("skipping session with bad id", "id", remote.ID, "error", err)
		return false, skipDecrypt
	}

	local, err := e.store.GetSession(id)
	if err == nil && !remoteIsNewer(remote, local) {
		return false, skipOlder
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Debug("skipping session after lookup error", "id", remote.ID, "error", err)
		return false, skipDecrypt
	}

	plaintext, err := Decrypt(e.key, remote.EncryptedData)
	if err != nil {
		slog.Warn("could not decrypt pulled session", "id", remote.ID, "error", err)
		return false, skipDecrypt
	}
	var msgs []model.Message
	if err := json.Unmarshal(plaintext, &msgs); err != nil {
		slog.Warn("could not parse decrypted session", "id", remote.ID, "error", err)
		return false, skipDecrypt
	}

	sess := model.Session{
		ID:               id,
		Tool:             remote.Metadata.ToolName,
		StartedAt:        remote.Metadata.StartedAt,
		EndedAt:          remote.Metadata.EndedAt,
		WorkingDirectory: remote.Metadata.ProjectPath,
		MessageCount:     remote.Metadata.MessageCount,
		MachineID:        remote.MachineID,
	}
	st := serverTime
	if st.IsZero() {
		st = time.Now().UTC()
	}
	if err := e.store.ImportSessionWithMessages(&sess, msgs, &st); err != nil {
		slog.Warn("could not import pulled session", "id", remote.ID, "error", err)
		return false, skipDecrypt
	}
	return true, skipNone
}

// remoteIsNewer implements the "newer wins" rule: the cloud copy replaces
// the local one iff it has more messages or a later end time.
func remoteIsNewer(remote *PushSession, local *model.Session) bool {
	if remote.Metadata.MessageCount > local.MessageCount {
		return true
	}
	if remote.Metadata.EndedAt != nil {
		if local.EndedAt == nil || remote.Metadata.EndedAt.After(*local.EndedAt) {
			return true
		}
	}
	return false
}

// Sync pulls then pushes. A pull failure downgrades to a warning so one
// direction failing never blocks the other.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}

	pull, err := e.Pull(ctx, false)
	if err != nil {
		slog.Warn("pull failed, continuing with push", "error", err)
		result.PullErr = err
	} else {
		result.Pull = pull
	}

	push, err := e.Push(ctx)
	result.Push = push
	return result, err
}

// ResetSync clears sync bookkeeping so sessions are pushed again. With ids
// it resets only those sessions; without, everything.
func (e *Engine) ResetSync(ids []uuid.UUID) (int, error) {
	if len(ids) > 0 {
		return e.store.ClearSyncStatusForSessions(ids)
	}
	return e.store.ClearSyncStatus()
}
