package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/unranked"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "1100"

type sentMessage struct {
	channelID string
	text      string
}

type mockPlatform struct {
	mu       sync.Mutex
	names    map[domain.UserID]string
	sent     []sentMessage
	failSend int // fail the n-th send (1-based); 0 never fails
}

func (m *mockPlatform) ResolveDisplayName(_ context.Context, id domain.UserID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[id]
	if !ok {
		return "", errors.New("unknown user")
	}
	return name, nil
}

func (m *mockPlatform) SendMessage(_ context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend == len(m.sent)+1 {
		return errors.New("discord unavailable")
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, text: text})
	return nil
}

func (m *mockPlatform) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.text
	}
	return out
}

type nopSaver struct{}

func (nopSaver) Save(context.Context, string, any) {}

var (
	ann = domain.NewUserRef(1, "ann")
	bob = domain.NewUserRef(2, "bob")
	cat = domain.NewUserRef(3, "cat")
	dan = domain.NewUserRef(4, "dan")
)

func newTestService(t *testing.T, ideas *unranked.Ideas, scores *unranked.Scores) (*Service, *unranked.Engine, *mockPlatform) {
	t.Helper()
	engine := unranked.NewEngine(ideas, scores, nopSaver{}, metrics.NewEngineMetrics(prometheus.NewRegistry()))
	t.Cleanup(engine.Stop)
	platform := &mockPlatform{names: map[domain.UserID]string{ann.ID: "Ann", bob.ID: "Bob", cat.ID: "Cat", dan.ID: "Dan"}}
	return NewService(engine, platform, testChannel), engine, platform
}

func seededIdeas(t *testing.T) *unranked.Ideas {
	t.Helper()
	ideas := unranked.NewIdeas()
	ideas.Add(ann.ID, "no jumping")
	ideas.Add(bob.ID, "only pistols")
	ideas.Add(cat.ID, "blindfolded")
	for _, v := range []struct {
		id   unranked.IdeaID
		user domain.UserRef
	}{
		{2, ann}, {2, bob}, {2, cat}, {2, dan},
		{3, ann}, {3, bob}, {3, cat},
		{1, dan},
	} {
		_, err := ideas.ChangeVote(v.id, v.user.ID, true)
		require.NoError(t, err)
	}
	return ideas
}

func TestStartEvent_FullFlow(t *testing.T) {
	scores := unranked.NewScores()
	require.NoError(t, scores.SetScore(ann, 4))
	svc, engine, platform := newTestService(t, seededIdeas(t), scores)
	ctx := context.Background()

	announcement, err := svc.StartEvent(ctx)
	require.NoError(t, err)

	assert.Equal(t, "@here This season we will be doing:\n---\n> only pistols\n---", announcement)

	snap, err := engine.IdeasSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len(), "only ideas above the threshold survive")
	assert.Equal(t, "blindfolded", snap.Data[0].Description)
	assert.Empty(t, snap.Data[0].Voters)

	display, err := engine.DisplayScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only pistols\n\nRankings:\n", display)

	texts := platform.texts()
	require.Len(t, texts, 8)
	assert.Equal(t, "Setting up for the start of a new unranked event", texts[0])
	assert.True(t, strings.HasPrefix(texts[1], unranked.IdeasDisplayTitle+"\n__Discard Threshold: 2__"))
	assert.Contains(t, texts[1], "Suggested by: `Bob`")
	assert.Equal(t, "Extracting leading idea", texts[2])
	assert.Equal(t, "Scores before reset", texts[3])
	assert.Contains(t, texts[4], "4 WINS - ann")
	assert.Equal(t, "**UNRANKED CHALLENGE**\nonly pistols\n\nRankings:\n", texts[5])
	assert.Equal(t, announcement, texts[6])
	assert.Equal(t, "@here Setup successfully completed GLHF", texts[7])

	for _, s := range platform.sent {
		assert.Equal(t, testChannel, s.channelID)
	}
}

func TestStartEvent_NoIdeas(t *testing.T) {
	svc, engine, _ := newTestService(t, unranked.NewIdeas(), unranked.NewScores())
	ctx := context.Background()

	announcement, err := svc.StartEvent(ctx)
	require.NoError(t, err)

	assert.Equal(t, Announcement(NoIdeasMessage), announcement)
	display, err := engine.DisplayScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoIdeasMessage+"\n\nRankings:\n", display)
}

func TestStartEvent_SendFailureKeepsEarlierSteps(t *testing.T) {
	svc, engine, platform := newTestService(t, seededIdeas(t), unranked.NewScores())
	platform.failSend = 4
	ctx := context.Background()

	_, err := svc.StartEvent(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord unavailable")

	leader, err := engine.LeadingIdea(ctx)
	require.NoError(t, err)
	require.NotNil(t, leader)
	assert.Equal(t, "blindfolded", leader.Idea.Description, "pop and reset already happened")
}

func TestStartEvent_ResolveFailureStopsBeforeChanges(t *testing.T) {
	svc, engine, platform := newTestService(t, seededIdeas(t), unranked.NewScores())
	delete(platform.names, dan.ID)
	ctx := context.Background()

	_, err := svc.StartEvent(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown user")

	snap, err := engine.IdeasSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, []string{"Setting up for the start of a new unranked event"}, platform.texts())
}

func TestRunObjective(t *testing.T) {
	svc, _, platform := newTestService(t, unranked.NewIdeas(), unranked.NewScores())
	ctx := context.Background()

	require.NoError(t, svc.RunObjective(ctx, domain.ObjectiveUnrankedStartEvent, 1_700_000_000))
	assert.NotEmpty(t, platform.texts())

	err := svc.RunObjective(ctx, domain.Objective(99), 1_700_000_000)
	assert.ErrorIs(t, err, domain.ErrInvalidObjective)
}

func TestDisplayIdeasVerbose_ResolvesNames(t *testing.T) {
	svc, _, _ := newTestService(t, seededIdeas(t), unranked.NewScores())

	display, err := svc.DisplayIdeasVerbose(context.Background())
	require.NoError(t, err)

	assert.Contains(t, display, "**2. only pistols (4 votes)**")
	assert.Contains(t, display, "Voters: `Ann, Bob, Cat, Dan`")
	assert.Contains(t, display, "Suggested by: `Ann`")
}

func TestDisplayIdeasVerbose_ResolveFailurePropagates(t *testing.T) {
	svc, _, platform := newTestService(t, seededIdeas(t), unranked.NewScores())
	delete(platform.names, dan.ID)

	display, err := svc.DisplayIdeasVerbose(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown user")
	assert.Contains(t, err.Error(), "user 4")
	assert.Empty(t, display)
}

func TestDisplayIdeasVerbose_Empty(t *testing.T) {
	svc, _, _ := newTestService(t, unranked.NewIdeas(), unranked.NewScores())

	display, err := svc.DisplayIdeasVerbose(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "__Discard Threshold: 2__\n\n", display)
}

func TestSanitizeMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"**bold** and __under__", "bold and under"},
		{"```code```", "code"},
		{"two\nlines", "twolines"},
		{"*single* _single_", "*single* _single_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeMarkdown(tt.in), tt.in)
	}
}
