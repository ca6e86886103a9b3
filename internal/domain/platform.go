package domain

import "context"

// PlatformClient is the chat-platform boundary used for announcements and name lookups.
type PlatformClient interface {
	ResolveDisplayName(ctx context.Context, userID UserID) (string, error)
	SendMessage(ctx context.Context, channelID, text string) error
}
