package unranked

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
)

var ErrEngineStopped = errors.New("engine stopped")

// --- Command types ---

type engineCmd interface{ engineCmd() }

type cmdAddIdea struct {
	creator     domain.UserRef
	description string
	replyCh     chan IdeaID
}

func (cmdAddIdea) engineCmd() {}

type cmdEditIdea struct {
	id          IdeaID
	requester   domain.UserRef
	description string
	replyCh     chan error
}

func (cmdEditIdea) engineCmd() {}

type cmdRemoveIdea struct {
	id            IdeaID
	requester     domain.UserRef
	allowOverride bool
	replyCh       chan ideaResult
}

func (cmdRemoveIdea) engineCmd() {}

type cmdChangeVote struct {
	id      IdeaID
	user    domain.UserRef
	add     bool
	replyCh chan voteResult
}

func (cmdChangeVote) engineCmd() {}

type cmdChangeVoteAll struct {
	user    domain.UserRef
	add     bool
	replyCh chan int
}

func (cmdChangeVoteAll) engineCmd() {}

type cmdLeadingIdea struct {
	replyCh chan *Leader
}

func (cmdLeadingIdea) engineCmd() {}

type cmdPopLeadingIdea struct {
	replyCh chan *Idea
}

func (cmdPopLeadingIdea) engineCmd() {}

type cmdResetIdeas struct {
	toDefault bool
	replyCh   chan struct{}
}

func (cmdResetIdeas) engineCmd() {}

type cmdSetThreshold struct {
	value   int
	replyCh chan error
}

func (cmdSetThreshold) engineCmd() {}

type cmdIdeasSnapshot struct {
	replyCh chan *Ideas
}

func (cmdIdeasSnapshot) engineCmd() {}

type cmdDisplayIdeas struct {
	replyCh chan string
}

func (cmdDisplayIdeas) engineCmd() {}

type cmdSetScore struct {
	user    domain.UserRef
	score   int8
	replyCh chan error
}

func (cmdSetScore) engineCmd() {}

type cmdRemoveScore struct {
	user    domain.UserRef
	replyCh chan voteResult
}

func (cmdRemoveScore) engineCmd() {}

type cmdSetScoreMessage struct {
	author  domain.UserRef
	message string
	replyCh chan struct{}
}

func (cmdSetScoreMessage) engineCmd() {}

type cmdDisplayScores struct {
	replyCh chan string
}

func (cmdDisplayScores) engineCmd() {}

type cmdResetScores struct {
	replyCh chan struct{}
}

func (cmdResetScores) engineCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) engineCmd() {}

type ideaResult struct {
	idea Idea
	err  error
}

type voteResult struct {
	changed bool
	err     error
}

// Leader is the leading idea together with its current ID.
type Leader struct {
	ID   IdeaID
	Idea Idea
}

// --- Engine ---

// Engine owns the ideas and scores of the current season. A single goroutine
// applies every command in arrival order and saves the affected store after
// each mutation. Callers only ever see copies.
type Engine struct {
	cmdCh     chan engineCmd
	stoppedCh chan struct{}
	stopOnce  sync.Once

	ideas   *Ideas
	scores  *Scores
	saver   domain.Saver
	metrics *metrics.EngineMetrics
}

func NewEngine(ideas *Ideas, scores *Scores, saver domain.Saver, m *metrics.EngineMetrics) *Engine {
	e := &Engine{
		cmdCh:     make(chan engineCmd, 64),
		stoppedCh: make(chan struct{}),
		ideas:     ideas,
		scores:    scores,
		saver:     saver,
		metrics:   m,
	}
	m.Ideas.Set(float64(ideas.Len()))
	m.Scores.Set(float64(len(scores.Records)))
	go e.run()
	return e
}

func (e *Engine) run() {
	ctx := context.Background()
	for cmd := range e.cmdCh {
		switch c := cmd.(type) {
		case cmdAddIdea:
			id := e.ideas.Add(c.creator.ID, c.description)
			slog.InfoContext(ctx, "Idea added", "idea_id", int(id), "creator", c.creator.ID)
			e.saveIdeas(ctx)
			e.metrics.Observe("add_idea", nil)
			c.replyCh <- id

		case cmdEditIdea:
			err := e.ideas.Edit(c.id, c.requester.ID, c.description)
			if err == nil {
				e.saveIdeas(ctx)
			}
			e.metrics.Observe("edit_idea", err)
			c.replyCh <- err

		case cmdRemoveIdea:
			idea, err := e.ideas.Remove(c.id, c.requester.ID, c.allowOverride)
			if err == nil {
				e.saveIdeas(ctx)
			}
			e.metrics.Observe("remove_idea", err)
			c.replyCh <- ideaResult{idea: idea, err: err}

		case cmdChangeVote:
			changed, err := e.ideas.ChangeVote(c.id, c.user.ID, c.add)
			if changed {
				e.saveIdeas(ctx)
			}
			slog.InfoContext(ctx, "Vote change", "idea_id", int(c.id), "user", c.user.ID, "add", c.add, "changed", changed)
			e.metrics.Observe("change_vote", err)
			c.replyCh <- voteResult{changed: changed, err: err}

		case cmdChangeVoteAll:
			n := e.ideas.ChangeVoteAll(c.user.ID, c.add)
			if n > 0 {
				e.saveIdeas(ctx)
			}
			slog.InfoContext(ctx, "Vote change on all ideas", "user", c.user.ID, "add", c.add, "changed", n)
			e.metrics.Observe("change_vote_all", nil)
			c.replyCh <- n

		case cmdLeadingIdea:
			var leader *Leader
			if idx, idea, ok := e.ideas.Leading(); ok {
				leader = &Leader{ID: IdeaIDFromIndex(idx), Idea: idea.clone()}
			}
			c.replyCh <- leader

		case cmdPopLeadingIdea:
			var popped *Idea
			if idea, ok := e.ideas.PopLeading(); ok {
				popped = &idea
				e.saveIdeas(ctx)
			}
			e.metrics.Observe("pop_leading", nil)
			c.replyCh <- popped

		case cmdResetIdeas:
			if c.toDefault {
				e.ideas.ResetToDefault()
			} else {
				e.ideas.ResetWithThreshold()
			}
			slog.InfoContext(ctx, "Ideas reset", "to_default", c.toDefault, "remaining", e.ideas.Len())
			e.saveIdeas(ctx)
			e.metrics.Observe("reset_ideas", nil)
			c.replyCh <- struct{}{}

		case cmdSetThreshold:
			err := e.ideas.SetThreshold(c.value)
			if err == nil {
				e.saveIdeas(ctx)
			}
			e.metrics.Observe("set_threshold", err)
			c.replyCh <- err

		case cmdIdeasSnapshot:
			c.replyCh <- e.ideas.Clone()

		case cmdDisplayIdeas:
			c.replyCh <- e.ideas.String()

		case cmdSetScore:
			err := e.scores.SetScore(c.user, c.score)
			e.saveScores(ctx)
			e.metrics.Observe("set_score", err)
			c.replyCh <- err

		case cmdRemoveScore:
			removed, err := e.scores.RemoveScore(c.user)
			if removed || err != nil {
				e.saveScores(ctx)
			}
			e.metrics.Observe("remove_score", err)
			c.replyCh <- voteResult{changed: removed, err: err}

		case cmdSetScoreMessage:
			e.scores.SetMessage(c.author, c.message)
			e.saveScores(ctx)
			e.metrics.Observe("set_score_message", nil)
			c.replyCh <- struct{}{}

		case cmdDisplayScores:
			c.replyCh <- e.scores.Display()

		case cmdResetScores:
			e.scores.ResetToDefault()
			slog.InfoContext(ctx, "Scores reset")
			e.saveScores(ctx)
			e.metrics.Observe("reset_scores", nil)
			c.replyCh <- struct{}{}

		case cmdStop:
			close(e.stoppedCh)
			close(c.doneCh)
			return
		}
	}
}

// Records are updated before the cache is touched, so scores are saved even
// when the call reports cache corruption.
func (e *Engine) saveScores(ctx context.Context) {
	e.saver.Save(ctx, domain.KeyScores, e.scores)
	e.metrics.Scores.Set(float64(len(e.scores.Records)))
}

func (e *Engine) saveIdeas(ctx context.Context) {
	e.saver.Save(ctx, domain.KeyIdeas, e.ideas)
	e.metrics.Ideas.Set(float64(e.ideas.Len()))
}

// ask sends cmd and waits for its reply on replyCh.
func ask[T any](ctx context.Context, e *Engine, cmd engineCmd, replyCh chan T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case e.cmdCh <- cmd:
	case <-e.stoppedCh:
		return zero, ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-replyCh:
		return v, nil
	case <-e.stoppedCh:
		return zero, ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) AddIdea(ctx context.Context, creator domain.UserRef, description string) (IdeaID, error) {
	replyCh := make(chan IdeaID, 1)
	return ask(ctx, e, cmdAddIdea{creator: creator, description: description, replyCh: replyCh}, replyCh)
}

func (e *Engine) EditIdea(ctx context.Context, id IdeaID, requester domain.UserRef, description string) error {
	replyCh := make(chan error, 1)
	err, askErr := ask(ctx, e, cmdEditIdea{id: id, requester: requester, description: description, replyCh: replyCh}, replyCh)
	if askErr != nil {
		return askErr
	}
	return err
}

// RemoveIdea deletes an idea. allowOverride lets an admin remove another member's idea.
func (e *Engine) RemoveIdea(ctx context.Context, id IdeaID, requester domain.UserRef, allowOverride bool) (Idea, error) {
	replyCh := make(chan ideaResult, 1)
	res, err := ask(ctx, e, cmdRemoveIdea{id: id, requester: requester, allowOverride: allowOverride, replyCh: replyCh}, replyCh)
	if err != nil {
		return Idea{}, err
	}
	return res.idea, res.err
}

// ChangeVote reports whether the vote state changed, so callers can tell
// "vote added" from "already voted".
func (e *Engine) ChangeVote(ctx context.Context, id IdeaID, user domain.UserRef, add bool) (bool, error) {
	replyCh := make(chan voteResult, 1)
	res, err := ask(ctx, e, cmdChangeVote{id: id, user: user, add: add, replyCh: replyCh}, replyCh)
	if err != nil {
		return false, err
	}
	return res.changed, res.err
}

func (e *Engine) ChangeVoteAll(ctx context.Context, user domain.UserRef, add bool) (int, error) {
	replyCh := make(chan int, 1)
	return ask(ctx, e, cmdChangeVoteAll{user: user, add: add, replyCh: replyCh}, replyCh)
}

// LeadingIdea returns nil when there are no ideas.
func (e *Engine) LeadingIdea(ctx context.Context) (*Leader, error) {
	replyCh := make(chan *Leader, 1)
	return ask(ctx, e, cmdLeadingIdea{replyCh: replyCh}, replyCh)
}

// PopLeadingIdea removes the leading idea regardless of owner. It returns nil when there are no ideas.
func (e *Engine) PopLeadingIdea(ctx context.Context) (*Idea, error) {
	replyCh := make(chan *Idea, 1)
	return ask(ctx, e, cmdPopLeadingIdea{replyCh: replyCh}, replyCh)
}

// ResetIdeas prunes ideas at or below the discard threshold and clears all votes.
func (e *Engine) ResetIdeas(ctx context.Context) error {
	replyCh := make(chan struct{}, 1)
	_, err := ask(ctx, e, cmdResetIdeas{replyCh: replyCh}, replyCh)
	return err
}

func (e *Engine) ResetIdeasToDefault(ctx context.Context) error {
	replyCh := make(chan struct{}, 1)
	_, err := ask(ctx, e, cmdResetIdeas{toDefault: true, replyCh: replyCh}, replyCh)
	return err
}

func (e *Engine) SetThreshold(ctx context.Context, value int) error {
	replyCh := make(chan error, 1)
	err, askErr := ask(ctx, e, cmdSetThreshold{value: value, replyCh: replyCh}, replyCh)
	if askErr != nil {
		return askErr
	}
	return err
}

func (e *Engine) IdeasSnapshot(ctx context.Context) (*Ideas, error) {
	replyCh := make(chan *Ideas, 1)
	return ask(ctx, e, cmdIdeasSnapshot{replyCh: replyCh}, replyCh)
}

func (e *Engine) DisplayIdeas(ctx context.Context) (string, error) {
	replyCh := make(chan string, 1)
	return ask(ctx, e, cmdDisplayIdeas{replyCh: replyCh}, replyCh)
}

func (e *Engine) SetScore(ctx context.Context, user domain.UserRef, score int8) error {
	replyCh := make(chan error, 1)
	err, askErr := ask(ctx, e, cmdSetScore{user: user, score: score, replyCh: replyCh}, replyCh)
	if askErr != nil {
		return askErr
	}
	return err
}

func (e *Engine) RemoveScore(ctx context.Context, user domain.UserRef) (bool, error) {
	replyCh := make(chan voteResult, 1)
	res, err := ask(ctx, e, cmdRemoveScore{user: user, replyCh: replyCh}, replyCh)
	if err != nil {
		return false, err
	}
	return res.changed, res.err
}

func (e *Engine) SetScoreMessage(ctx context.Context, author domain.UserRef, message string) error {
	replyCh := make(chan struct{}, 1)
	_, err := ask(ctx, e, cmdSetScoreMessage{author: author, message: message, replyCh: replyCh}, replyCh)
	return err
}

func (e *Engine) DisplayScores(ctx context.Context) (string, error) {
	replyCh := make(chan string, 1)
	return ask(ctx, e, cmdDisplayScores{replyCh: replyCh}, replyCh)
}

func (e *Engine) ResetScoresToDefault(ctx context.Context) error {
	replyCh := make(chan struct{}, 1)
	_, err := ask(ctx, e, cmdResetScores{replyCh: replyCh}, replyCh)
	return err
}

// Stop terminates the actor. Calls made after Stop return ErrEngineStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		doneCh := make(chan struct{})
		e.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
	})
}
