package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

func testLink(sessionID uuid.UUID, sha string) *model.SessionLink {
	conf := 0.8
	return &model.SessionLink{
		ID:         uuid.New(),
		SessionID:  sessionID,
		LinkType:   model.LinkCommit,
		CommitSHA:  sha,
		Branch:     "main",
		CreatedAt:  time.Now(),
		CreatedBy:  model.LinkedByAuto,
		Confidence: &conf,
	}
}

func TestLinkRoundTrip(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))

	link := testLink(sess.ID, "0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, s.InsertLink(link))

	links, err := s.GetLinksBySession(sess.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, link.CommitSHA, links[0].CommitSHA)
	assert.Equal(t, model.LinkedByAuto, links[0].CreatedBy)
	require.NotNil(t, links[0].Confidence)
	assert.InDelta(t, 0.8, *links[0].Confidence, 0.001)
}

func TestGetLinksByCommitPrefix(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))
	require.NoError(t, s.InsertLink(testLink(sess.ID, "deadbeef00000000000000000000000000000000")))

	links, err := s.GetLinksByCommit("deadbeef")
	require.NoError(t, err)
	assert.Len(t, links, 1)

	links, err = s.GetLinksByCommit("cafe0000")
	require.NoError(t, err)
	assert.Empty(t, links)

	_, err = s.GetLinksByCommit("dea")
	assert.Error(t, err)
}

func TestLinkExists(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))

	sha := "feedface00000000000000000000000000000000"
	exists, err := s.LinkExists(sess.ID, sha)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.InsertLink(testLink(sess.ID, sha)))
	exists, err = s.LinkExists(sess.ID, sha)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteLinkBySessionAndCommit(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("claude-code", time.Now().Add(-time.Hour))
	require.NoError(t, s.UpsertSession(sess))
	require.NoError(t, s.InsertLink(testLink(sess.ID, "aaaa111100000000000000000000000000000000")))
	require.NoError(t, s.InsertLink(testLink(sess.ID, "bbbb222200000000000000000000000000000000")))

	n, err := s.DeleteLinkBySessionAndCommit(sess.ID, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	links, err := s.GetLinksBySession(sess.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	n, err = s.DeleteLinksBySession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
