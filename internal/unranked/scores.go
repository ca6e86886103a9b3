package unranked

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/pscheid92/unranked/internal/domain"
)

const ScoresDisplayTitle = "UNRANKED CHALLENGE"

type ScoreRecord struct {
	User  domain.UserRef `json:"user"`
	Score int8           `json:"score"`
}

// Scores holds one self-reported score per user plus an announcement message.
//
// cache groups display names by score. It is rebuilt lazily from Records and
// dropped whenever it is found out of sync with them.
type Scores struct {
	Message string        `json:"message"`
	Records []ScoreRecord `json:"records"`

	cache map[int8][]string
}

func NewScores() *Scores {
	return &Scores{}
}

// SetScore inserts or updates user's score. Setting the current value is a no-op.
func (s *Scores) SetScore(user domain.UserRef, score int8) error {
	cache := s.ensureCache()

	idx := slices.IndexFunc(s.Records, func(r ScoreRecord) bool { return r.User.Is(user) })
	if idx < 0 {
		s.Records = append(s.Records, ScoreRecord{User: user, Score: score})
		cache[score] = append(cache[score], user.DisplayName)
		return nil
	}

	record := &s.Records[idx]
	if record.Score == score {
		return nil
	}
	old := record.Score
	record.Score = score

	if err := s.removeFromCache(old, record.User.DisplayName); err != nil {
		return err
	}
	s.cache[score] = append(s.cache[score], record.User.DisplayName)
	return nil
}

// RemoveScore deletes user's record and reports whether one existed.
func (s *Scores) RemoveScore(user domain.UserRef) (bool, error) {
	s.ensureCache()

	idx := slices.IndexFunc(s.Records, func(r ScoreRecord) bool { return r.User.Is(user) })
	if idx < 0 {
		return false, nil
	}
	record := s.Records[idx]
	s.Records = slices.Delete(s.Records, idx, idx+1)

	if err := s.removeFromCache(record.Score, record.User.DisplayName); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scores) SetMessage(author domain.UserRef, message string) {
	slog.Info("Scores message replaced", "author", author.ID, "from", s.Message, "to", message)
	s.Message = message
}

// Display renders the message followed by the rankings, highest score first.
// It has no error return: a missing cache is rebuilt from Records, so
// rendering cannot fail.
func (s *Scores) Display() string {
	cache := s.ensureCache()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nRankings:\n", s.Message)
	for _, score := range slices.Backward(slices.Sorted(maps.Keys(cache))) {
		fmt.Fprintf(&b, "%d WINS - %s\n", score, strings.Join(cache[score], ", "))
	}
	return b.String()
}

func (s *Scores) ResetToDefault() {
	*s = Scores{}
}

// Clone returns a copy without the cache.
func (s *Scores) Clone() *Scores {
	return &Scores{Message: s.Message, Records: slices.Clone(s.Records)}
}

func (s *Scores) ensureCache() map[int8][]string {
	if s.cache == nil {
		slog.Debug("Rebuilding scores cache", "records", len(s.Records))
		s.cache = make(map[int8][]string)
		for _, r := range s.Records {
			s.cache[r.Score] = append(s.cache[r.Score], r.User.DisplayName)
		}
	}
	return s.cache
}

// removeFromCache must run after Records is updated so that dropping the
// cache on a mismatch leaves Records as the source of truth.
func (s *Scores) removeFromCache(score int8, name string) error {
	if s.cache == nil {
		slog.Error("Scores cache missing during removal")
		return fmt.Errorf("remove %q from score %d: %w", name, score, domain.ErrInternalCacheCorruption)
	}

	names, ok := s.cache[score]
	pos := slices.Index(names, name)
	if !ok || pos < 0 {
		s.cache = nil
		slog.Error("Scores cache out of sync with records, cache dropped", "score", score, "name", name)
		return fmt.Errorf("remove %q from score %d: %w", name, score, domain.ErrInternalCacheCorruption)
	}

	names = slices.Delete(names, pos, pos+1)
	if len(names) == 0 {
		delete(s.cache, score)
	} else {
		s.cache[score] = names
	}
	return nil
}
