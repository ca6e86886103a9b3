package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/retry"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// maxMessageLength is Discord's limit for a single message body.
	maxMessageLength = 2000

	nameCacheTTL          = 10 * time.Minute
	nameResolveTimeout    = 10 * time.Second
	retryInitialBackoff   = 500 * time.Millisecond
	retryRateLimitBackoff = 5 * time.Second
	retryMaxBackoff       = 10 * time.Second
)

// restAPI is the subset of *discordgo.Session the client uses.
type restAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

type Options struct {
	// GuildID, when set, resolves names through guild membership so that
	// nicknames take precedence.
	GuildID  string
	SendRate float64
	Clock    clockwork.Clock
	Retry    retry.Policy
}

// Client implements domain.PlatformClient over the Discord REST API. Sends are
// rate limited, retried on transient failures and guarded by a circuit breaker.
type Client struct {
	api     restAPI
	guildID string
	clock   clockwork.Clock
	policy  retry.Policy
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.PlatformMetrics

	resolveGroup singleflight.Group
	mu           sync.RWMutex
	names        map[domain.UserID]cachedName
}

var _ domain.PlatformClient = (*Client)(nil)

// errSendWait wraps limiter failures. The limiter only fails when ctx is done
// or its deadline cannot be met, so retrying is pointless.
var errSendWait = errors.New("send rate limit wait")

type cachedName struct {
	name    string
	expires time.Time
}

// NewSession creates a REST-only discordgo session for a bot token.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return session, nil
}

func NewClient(api restAPI, opts Options, m *metrics.PlatformMetrics) *Client {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
			MaxBackoff:       retryMaxBackoff,
		}
	}
	opts.Retry.Clock = opts.Clock

	c := &Client{
		api:     api,
		guildID: opts.GuildID,
		clock:   opts.Clock,
		policy:  opts.Retry,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), 1),
		metrics: m,
		names:   make(map[domain.UserID]cachedName),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "discord-send",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || classify(err) == retry.Stop
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.BreakerState.Set(breakerStateValue(to))
		},
	})
	return c
}

// Healthy fails while the send circuit breaker is open.
func (c *Client) Healthy(context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return errors.New("discord send circuit breaker is open")
	}
	return nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// SendMessage posts text to channelID, splitting it into several messages
// when it exceeds Discord's length limit.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if err := c.sendOne(ctx, channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendOne(ctx context.Context, channelID, text string) error {
	p := c.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "Discord send failed, retrying", "channel_id", channelID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	err := retry.DoVoid(ctx, p, classify, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", errSendWait, err)
		}
		_, err := c.breaker.Execute(func() (any, error) {
			return c.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
		})
		return err
	})
	c.metrics.Observe("send_message", err)
	if err != nil {
		return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}
	return nil
}

// ResolveDisplayName returns the name a user is shown under. Results are cached
// and concurrent lookups for the same user share one request.
func (c *Client) ResolveDisplayName(ctx context.Context, id domain.UserID) (string, error) {
	if name, ok := c.cached(id); ok {
		return name, nil
	}

	v, err, _ := c.resolveGroup.Do(id.String(), func() (any, error) {
		// Shared by every waiting caller, so detached from the first one's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nameResolveTimeout)
		defer cancel()

		name, err := c.fetchDisplayName(fetchCtx, id)
		c.metrics.Observe("resolve_name", err)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.names[id] = cachedName{name: name, expires: c.clock.Now().Add(nameCacheTTL)}
		c.mu.Unlock()
		return name, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve display name for %s: %w", id, err)
	}
	return v.(string), nil
}

func (c *Client) cached(id domain.UserID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.names[id]
	if !ok || c.clock.Now().After(entry.expires) {
		return "", false
	}
	return entry.name, true
}

func (c *Client) fetchDisplayName(ctx context.Context, id domain.UserID) (string, error) {
	if c.guildID != "" {
		member, err := c.api.GuildMember(c.guildID, id.String(), discordgo.WithContext(ctx))
		if err == nil && member != nil {
			if member.Nick != "" {
				return member.Nick, nil
			}
			if member.User != nil {
				return userDisplayName(member.User), nil
			}
		}
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return "", err
		}
	}

	user, err := c.api.User(id.String(), discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return userDisplayName(user), nil
}

func userDisplayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func classify(err error) retry.Action {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.Stop
	}
	if errors.Is(err, errSendWait) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return retry.Retry
	}
	switch code := restErr.Response.StatusCode; {
	case code == http.StatusTooManyRequests:
		return retry.After
	case code >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

func isStatus(err error, status int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == status
}

// splitMessage cuts text into pieces of at most limit bytes, preferring line
// boundaries and never splitting a UTF-8 sequence. Invalid UTF-8 is replaced
// first. A single rune wider than limit becomes its own chunk.
func splitMessage(text string, limit int) []string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := lastNewline(text[:limit])
		if cut <= 0 {
			cut = runeBoundary(text, limit)
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(text)
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
		if len(text) > 0 && text[0] == '\n' {
			text = text[1:]
		}
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func runeBoundary(s string, limit int) int {
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return cut
}
