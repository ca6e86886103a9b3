package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/unranked"
	"golang.org/x/sync/errgroup"
)

const (
	NoIdeasMessage = "Seems there were no ideas"

	nameResolveConcurrency = 4
)

// Engine is the part of unranked.Engine the coordinating layer drives.
type Engine interface {
	IdeasSnapshot(ctx context.Context) (*unranked.Ideas, error)
	PopLeadingIdea(ctx context.Context) (*unranked.Idea, error)
	ResetIdeas(ctx context.Context) error
	SetScoreMessage(ctx context.Context, author domain.UserRef, message string) error
	DisplayScores(ctx context.Context) (string, error)
	ResetScoresToDefault(ctx context.Context) error
}

// Service runs flows that span several engine operations and the chat platform.
type Service struct {
	engine    Engine
	platform  domain.PlatformClient
	channelID string
}

var _ domain.ObjectiveRunner = (*Service)(nil)

// NewService creates the coordinating layer. channelID is where event
// announcements are posted.
func NewService(engine Engine, platform domain.PlatformClient, channelID string) *Service {
	return &Service{engine: engine, platform: platform, channelID: channelID}
}

// RunObjective executes the side effect of a scheduled task.
func (s *Service) RunObjective(ctx context.Context, objective domain.Objective, target domain.UnixTimestamp) error {
	switch objective {
	case domain.ObjectiveUnrankedStartEvent:
		slog.InfoContext(ctx, "Running scheduled event start", "target", int32(target))
		_, err := s.StartEvent(ctx)
		return err
	default:
		return fmt.Errorf("run %s: %w", objective, domain.ErrInvalidObjective)
	}
}

// StartEvent closes the current season: it announces the final ideas, takes
// the leading idea as the new season's challenge, resets ideas and scores and
// posts the announcement. It returns the announcement text.
//
// Steps run one after another without a surrounding transaction. A failure
// leaves the earlier steps applied.
func (s *Service) StartEvent(ctx context.Context) (string, error) {
	slog.InfoContext(ctx, "Starting unranked event")

	if err := s.say(ctx, "Setting up for the start of a new unranked event"); err != nil {
		return "", err
	}

	verbose, err := s.DisplayIdeasVerbose(ctx)
	if err != nil {
		return "", fmt.Errorf("start event: render ideas: %w", err)
	}
	if err := s.say(ctx, unranked.IdeasDisplayTitle+"\n"+verbose); err != nil {
		return "", err
	}

	leading, err := s.engine.PopLeadingIdea(ctx)
	if err != nil {
		return "", fmt.Errorf("start event: pop leading idea: %w", err)
	}
	if err := s.say(ctx, "Extracting leading idea"); err != nil {
		return "", err
	}

	if err := s.engine.ResetIdeas(ctx); err != nil {
		return "", fmt.Errorf("start event: reset ideas: %w", err)
	}

	if err := s.say(ctx, "Scores before reset"); err != nil {
		return "", err
	}
	if err := s.sayScores(ctx); err != nil {
		return "", err
	}
	if err := s.engine.ResetScoresToDefault(ctx); err != nil {
		return "", fmt.Errorf("start event: reset scores: %w", err)
	}

	msg := NoIdeasMessage
	if leading != nil {
		msg = leading.Description
	}
	if err := s.engine.SetScoreMessage(ctx, domain.UserRef{}, msg); err != nil {
		return "", fmt.Errorf("start event: set score message: %w", err)
	}
	if err := s.sayScores(ctx); err != nil {
		return "", err
	}

	announcement := Announcement(msg)
	if err := s.say(ctx, announcement); err != nil {
		return "", err
	}
	if err := s.say(ctx, "@here Setup successfully completed GLHF"); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Unranked event started", "challenge", msg)
	return announcement, nil
}

// Announcement formats the season start message for challenge.
func Announcement(challenge string) string {
	return fmt.Sprintf("@here This season we will be doing:\n---\n> %s\n---", challenge)
}

// DisplayIdeasVerbose renders the ideas with creator and voter names. Names
// are resolved after the snapshot is taken. Any failed lookup fails the display.
func (s *Service) DisplayIdeasVerbose(ctx context.Context) (string, error) {
	ideas, err := s.engine.IdeasSnapshot(ctx)
	if err != nil {
		return "", err
	}
	names, err := s.resolveNames(ctx, ideas.UserIDs())
	if err != nil {
		return "", err
	}
	return ideas.VerboseString(names), nil
}

func (s *Service) resolveNames(ctx context.Context, ids []domain.UserID) (map[domain.UserID]string, error) {
	resolved := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nameResolveConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			name, err := s.platform.ResolveDisplayName(gctx, id)
			if err != nil {
				return fmt.Errorf("user %s: %w", id, err)
			}
			resolved[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve names: %w", err)
	}

	names := make(map[domain.UserID]string, len(ids))
	for i, id := range ids {
		names[id] = resolved[i]
	}
	return names, nil
}

func (s *Service) sayScores(ctx context.Context) error {
	display, err := s.engine.DisplayScores(ctx)
	if err != nil {
		return fmt.Errorf("start event: display scores: %w", err)
	}
	return s.say(ctx, "**"+unranked.ScoresDisplayTitle+"**\n"+display)
}

func (s *Service) say(ctx context.Context, text string) error {
	if err := s.platform.SendMessage(ctx, s.channelID, text); err != nil {
		return fmt.Errorf("start event: send to %s: %w", s.channelID, err)
	}
	return nil
}

var markdownHazards = strings.NewReplacer("**", "", "__", "", "```", "", "\n", "")

// SanitizeMarkdown removes bold and underline markers, code fences and line
// breaks, which break the layout of messages that embed user text.
func SanitizeMarkdown(s string) string {
	return markdownHazards.Replace(s)
}
