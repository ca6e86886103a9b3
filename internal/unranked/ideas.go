package unranked

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/pscheid92/unranked/internal/domain"
)

const (
	IdeasDisplayTitle       = "# Unranked Ideas"
	DefaultDiscardThreshold = 2
)

// IdeaID is a 1-based position in the idea list. It is recomputed from the
// current order on every access, so it shifts when an earlier idea is removed.
type IdeaID int

func IdeaIDFromIndex(i int) IdeaID {
	return IdeaID(i + 1)
}

func (id IdeaID) index() int {
	return int(id) - 1
}

type Idea struct {
	Creator     domain.UserID   `json:"creator"`
	Description string          `json:"description"`
	Voters      []domain.UserID `json:"voters"`
}

func (i Idea) Votes() int {
	return len(i.Voters)
}

func (i Idea) String() string {
	var votes string
	switch n := len(i.Voters); n {
	case 0:
		votes = "No votes"
	case 1:
		votes = "1 vote"
	default:
		votes = fmt.Sprintf("%d votes", n)
	}
	return fmt.Sprintf("%s (%s)", i.Description, votes)
}

// changeVote reports whether the voter set changed.
func (i *Idea) changeVote(user domain.UserID, add bool) bool {
	pos := slices.Index(i.Voters, user)
	switch {
	case pos >= 0 && add, pos < 0 && !add:
		return false
	case add:
		i.Voters = append(i.Voters, user)
	default:
		i.Voters = slices.Delete(i.Voters, pos, pos+1)
	}
	return true
}

func (i Idea) clone() Idea {
	i.Voters = slices.Clone(i.Voters)
	return i
}

// Ideas is the ordered list of proposals for the next season.
type Ideas struct {
	Data []Idea `json:"data"`

	// Ideas with this many votes or fewer are discarded on reset.
	DiscardThreshold int `json:"discard_threshold"`
}

func NewIdeas() *Ideas {
	return &Ideas{DiscardThreshold: DefaultDiscardThreshold}
}

func (s *Ideas) Len() int {
	return len(s.Data)
}

func (s *Ideas) Add(creator domain.UserID, description string) IdeaID {
	s.Data = append(s.Data, Idea{Creator: creator, Description: description})
	return IdeaIDFromIndex(len(s.Data) - 1)
}

func (s *Ideas) Edit(id IdeaID, requester domain.UserID, description string) error {
	idea, err := s.get(id)
	if err != nil {
		return err
	}
	if idea.Creator != requester {
		slog.Warn("Idea edit rejected", "idea_id", int(id), "requester", requester, "creator", idea.Creator)
		return fmt.Errorf("edit idea %d: %w", id, domain.ErrNotOwner)
	}

	slog.Info("Idea edited", "idea_id", int(id), "from", idea.Description, "to", description)
	idea.Description = description
	return nil
}

// Remove deletes and returns the idea. allowOverride skips the creator check.
func (s *Ideas) Remove(id IdeaID, requester domain.UserID, allowOverride bool) (Idea, error) {
	idea, err := s.get(id)
	if err != nil {
		return Idea{}, err
	}
	if idea.Creator != requester && !allowOverride {
		slog.Warn("Idea removal rejected", "idea_id", int(id), "requester", requester, "creator", idea.Creator)
		return Idea{}, fmt.Errorf("remove idea %d: %w", id, domain.ErrNotOwner)
	}

	removed := *idea
	s.Data = slices.Delete(s.Data, id.index(), id.index()+1)
	slog.Info("Idea removed", "idea_id", int(id), "description", removed.Description)
	return removed, nil
}

// ChangeVote adds or removes user's vote. It reports false when the vote
// was already in the requested state.
func (s *Ideas) ChangeVote(id IdeaID, user domain.UserID, add bool) (bool, error) {
	idea, err := s.get(id)
	if err != nil {
		return false, err
	}
	return idea.changeVote(user, add), nil
}

// ChangeVoteAll applies ChangeVote to every idea and returns how many changed.
func (s *Ideas) ChangeVoteAll(user domain.UserID, add bool) int {
	changed := 0
	for i := range s.Data {
		if s.Data[i].changeVote(user, add) {
			changed++
		}
	}
	return changed
}

// Leading returns the idea with the most votes, earliest on ties.
func (s *Ideas) Leading() (int, Idea, bool) {
	if len(s.Data) == 0 {
		return 0, Idea{}, false
	}
	best := 0
	for i := 1; i < len(s.Data); i++ {
		if s.Data[i].Votes() > s.Data[best].Votes() {
			best = i
		}
	}
	return best, s.Data[best], true
}

func (s *Ideas) PopLeading() (Idea, bool) {
	idx, _, ok := s.Leading()
	if !ok {
		return Idea{}, false
	}
	idea, err := s.Remove(IdeaIDFromIndex(idx), 0, true)
	if err != nil {
		panic(fmt.Sprintf("leading index %d vanished: %v", idx, err))
	}
	return idea, true
}

// ResetWithThreshold orders ideas by descending votes keeping insertion order
// on ties, drops those at or below the threshold and clears the survivors' votes.
// The previously leading idea, if it survives, ends up first.
func (s *Ideas) ResetWithThreshold() {
	slices.SortStableFunc(s.Data, func(a, b Idea) int {
		return b.Votes() - a.Votes()
	})
	s.Data = slices.DeleteFunc(s.Data, func(idea Idea) bool {
		return idea.Votes() <= s.DiscardThreshold
	})
	for i := range s.Data {
		s.Data[i].Voters = nil
	}
}

func (s *Ideas) SetThreshold(value int) error {
	if value < 0 {
		return fmt.Errorf("threshold %d: %w", value, domain.ErrInvalidThreshold)
	}
	slog.Info("Discard threshold changed", "from", s.DiscardThreshold, "to", value)
	s.DiscardThreshold = value
	return nil
}

func (s *Ideas) ResetToDefault() {
	*s = *NewIdeas()
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (s *Ideas) Clone() *Ideas {
	c := &Ideas{DiscardThreshold: s.DiscardThreshold, Data: make([]Idea, len(s.Data))}
	for i, idea := range s.Data {
		c.Data[i] = idea.clone()
	}
	return c
}

// String renders the compact listing with the leading idea in bold.
func (s *Ideas) String() string {
	leading, _, ok := s.Leading()
	if !ok {
		return ""
	}
	var b strings.Builder
	for i, idea := range s.Data {
		if i == leading {
			fmt.Fprintf(&b, "**%d. %s**\n", i+1, idea)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, idea)
		}
	}
	return b.String()
}

// UserIDs returns every creator and voter referenced by the ideas.
func (s *Ideas) UserIDs() []domain.UserID {
	seen := make(map[domain.UserID]struct{})
	var ids []domain.UserID
	add := func(id domain.UserID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, idea := range s.Data {
		add(idea.Creator)
		for _, v := range idea.Voters {
			add(v)
		}
	}
	return ids
}

// VerboseString renders creators, voters and threshold markers. names maps
// user IDs to display names; unknown IDs fall back to the numeric ID.
func (s *Ideas) VerboseString(names map[domain.UserID]string) string {
	nameOf := func(id domain.UserID) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "__Discard Threshold: %d__\n\n", s.DiscardThreshold)

	leading, _, ok := s.Leading()
	if !ok {
		return b.String()
	}
	for i, idea := range s.Data {
		underline, bold := "", ""
		if idea.Votes() > s.DiscardThreshold {
			underline = "__"
		}
		if i == leading {
			bold = "**"
		}
		fmt.Fprintf(&b, "%s%s%d. %s%s%s Suggested by: `%s`\n", underline, bold, i+1, idea, bold, underline, nameOf(idea.Creator))

		if len(idea.Voters) == 0 {
			b.WriteString("[No voters]\n")
		} else {
			voters := make([]string, len(idea.Voters))
			for j, v := range idea.Voters {
				voters[j] = nameOf(v)
			}
			fmt.Fprintf(&b, "Voters: `%s`\n", strings.Join(voters, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("_Bold is leading idea and underlined is above threshold_\n")
	return b.String()
}

func (s *Ideas) get(id IdeaID) (*Idea, error) {
	if id < 1 || int(id) > len(s.Data) {
		if len(s.Data) == 0 {
			return nil, fmt.Errorf("idea %d: %w: there are no ideas", id, domain.ErrInvalidID)
		}
		return nil, fmt.Errorf("idea %d: %w: valid ids are 1..%d", id, domain.ErrInvalidID, len(s.Data))
	}
	return &s.Data[id.index()], nil
}
