package domain

import (
	"context"
	"fmt"
	"time"
)

// Objective identifies what a scheduled task does when it fires.
// At most one task per objective exists at any time.
type Objective int

const (
	ObjectiveUnrankedStartEvent Objective = iota
)

var objectiveNames = map[Objective]string{
	ObjectiveUnrankedStartEvent: "UnrankedStartEvent",
}

func (o Objective) String() string {
	if name, ok := objectiveNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Objective(%d)", int(o))
}

func ParseObjective(s string) (Objective, error) {
	for o, name := range objectiveNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidObjective, s)
}

func (o Objective) MarshalText() ([]byte, error) {
	if _, ok := objectiveNames[o]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidObjective, int(o))
	}
	return []byte(o.String()), nil
}

func (o *Objective) UnmarshalText(b []byte) error {
	v, err := ParseObjective(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// UnixTimestamp is a point in time in whole seconds since the epoch.
type UnixTimestamp int32

func TimestampOf(t time.Time) UnixTimestamp {
	return UnixTimestamp(t.Unix())
}

func (ts UnixTimestamp) Time() time.Time {
	return time.Unix(int64(ts), 0)
}

// String renders the timestamp as a chat-platform time tag in full and relative form.
func (ts UnixTimestamp) String() string {
	return fmt.Sprintf("<t:%d:F> <t:%d:R>", ts, ts)
}

// ObjectiveRunner performs the side effect of a fired task.
type ObjectiveRunner interface {
	RunObjective(ctx context.Context, objective Objective, target UnixTimestamp) error
}
