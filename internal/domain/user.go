package domain

import (
	"fmt"
	"strconv"
)

// UserID is a chat-platform user identity. It serializes as a decimal string
// because platform snowflakes overflow JSON number precision.
type UserID uint64

func (id UserID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *UserID) UnmarshalText(b []byte) error {
	v, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", s, err)
	}
	return UserID(v), nil
}

// UserRef is a stored identity plus the display name captured at interaction
// time. Two refs denote the same user when their IDs match.
type UserRef struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"name"`
}

func NewUserRef(id UserID, displayName string) UserRef {
	return UserRef{ID: id, DisplayName: displayName}
}

func (u UserRef) Is(other UserRef) bool {
	return u.ID == other.ID
}

func (u UserRef) String() string {
	return u.DisplayName
}
