package httpserver

import (
	"net/http"
	"testing"

	apperrors "github.com/pscheid92/unranked/internal/platform/errors"
	"github.com/pscheid92/unranked/internal/unranked"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdeas_AddVoteAndList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"  Only pistols  "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/ideas/1/vote", otherID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"changed":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/ideas/1/vote", otherID, "")
	assert.JSONEq(t, `{"changed":false}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/ideas", memberID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[displayResponse](t, rec)
	assert.Equal(t, "# Unranked Ideas\n**1. Only pistols (1 vote)**\n", resp.Display)
}

func TestIdeas_VerboseListUsesNameResolution(t *testing.T) {
	ts := newTestServer(t)
	ts.events.verbose = "1. Knife only (by ann)\n"

	rec := ts.do(t, http.MethodGet, "/api/ideas?verbose=1", memberID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Unranked Ideas\n1. Knife only (by ann)\n", decode[displayResponse](t, rec).Display)
}

func TestIdeas_AddRequiresDescription(t *testing.T) {
	ts := newTestServer(t)

	requireError(t, ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"   "}`), http.StatusBadRequest, apperrors.TypeValidation)
	requireError(t, ts.do(t, http.MethodPost, "/api/ideas", memberID, `{not json`), http.StatusBadRequest, apperrors.TypeValidation)
}

func TestIdeas_EditByOtherMemberIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"a"}`)

	rec := ts.do(t, http.MethodPut, "/api/ideas/1", otherID, `{"description":"b"}`)
	requireError(t, rec, http.StatusForbidden, apperrors.TypeForbidden)

	rec = ts.do(t, http.MethodPut, "/api/ideas/1", memberID, `{"description":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIdeas_RemoveOwnershipAndOverride(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"a"}`)

	requireError(t, ts.do(t, http.MethodDelete, "/api/ideas/1", otherID, ""), http.StatusForbidden, apperrors.TypeForbidden)

	rec := ts.do(t, http.MethodDelete, "/api/ideas/1", ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[map[string]unranked.Idea](t, rec)["removed"]
	assert.Equal(t, "a", removed.Description)
}

func TestIdeas_UnknownIDIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"a"}`)

	rec := ts.do(t, http.MethodPost, "/api/ideas/5/vote", memberID, "")

	requireError(t, rec, http.StatusNotFound, apperrors.TypeNotFound)
	assert.Contains(t, rec.Body.String(), "valid ids are 1..1")
}

func TestIdeas_NonNumericIDIsBadRequest(t *testing.T) {
	ts := newTestServer(t)

	requireError(t, ts.do(t, http.MethodDelete, "/api/ideas/first", memberID, ""), http.StatusBadRequest, apperrors.TypeValidation)
}

func TestIdeas_VoteAll(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"a"}`)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"b"}`)

	rec := ts.do(t, http.MethodPost, "/api/ideas/votes", otherID, "")
	assert.JSONEq(t, `{"changed":2}`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/ideas/votes", otherID, "")
	assert.JSONEq(t, `{"changed":2}`, rec.Body.String())
}

func TestIdeas_Leading(t *testing.T) {
	ts := newTestServer(t)

	requireError(t, ts.do(t, http.MethodGet, "/api/ideas/leading", memberID, ""), http.StatusNotFound, apperrors.TypeNotFound)

	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"a"}`)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"b"}`)
	ts.do(t, http.MethodPost, "/api/ideas/2/vote", otherID, "")

	rec := ts.do(t, http.MethodGet, "/api/ideas/leading", memberID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	leader := decode[leaderResponse](t, rec)
	assert.Equal(t, unranked.IdeaID(2), leader.ID)
	assert.Equal(t, "b", leader.Idea.Description)
}

func TestIdeas_ThresholdAndReset(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"a"}`)
	ts.do(t, http.MethodPost, "/api/ideas", memberID, `{"description":"b"}`)
	ts.do(t, http.MethodPost, "/api/ideas/2/vote", otherID, "")

	requireError(t, ts.do(t, http.MethodPut, "/api/ideas/threshold", ownerID, `{"threshold":-1}`), http.StatusBadRequest, apperrors.TypeValidation)
	requireError(t, ts.do(t, http.MethodPut, "/api/ideas/threshold", ownerID, `{}`), http.StatusBadRequest, apperrors.TypeValidation)

	rec := ts.do(t, http.MethodPut, "/api/ideas/threshold", ownerID, `{"threshold":0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/ideas/reset", ownerID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/ideas", memberID, "")
	assert.Equal(t, "# Unranked Ideas\n**1. b (No votes)**\n", decode[displayResponse](t, rec).Display)
}
