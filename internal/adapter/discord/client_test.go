package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/retry"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	channelID string
	content   string
}

type mockAPI struct {
	mu        sync.Mutex
	sent      []sentMessage
	sendErrs  []error
	users     map[string]*discordgo.User
	members   map[string]*discordgo.Member
	userCalls atomic.Int32
	userDelay time.Duration
	memberErr error
}

func (m *mockAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockAPI) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	m.userCalls.Add(1)
	if m.userDelay > 0 {
		ctx := requestContext(options)
		select {
		case <-time.After(m.userDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, restError(http.StatusNotFound)
	}
	return u, nil
}

func (m *mockAPI) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if m.memberErr != nil {
		return nil, m.memberErr
	}
	member, ok := m.members[userID]
	if !ok {
		return nil, restError(http.StatusNotFound)
	}
	return member, nil
}

func (m *mockAPI) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// requestContext recovers the context a caller attached with discordgo.WithContext.
func requestContext(options []discordgo.RequestOption) context.Context {
	req, _ := http.NewRequest(http.MethodGet, "http://discord.invalid", nil)
	cfg := &discordgo.RequestConfig{Request: req}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg.Request.Context()
}

func restError(status int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
}

var fastRetry = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, RateLimitBackoff: 2 * time.Millisecond}

func newTestClient(t *testing.T, api *mockAPI, opts Options) (*Client, *metrics.PlatformMetrics) {
	t.Helper()
	m := metrics.NewPlatformMetrics(prometheus.NewRegistry())
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry
	}
	if opts.SendRate == 0 {
		opts.SendRate = 1000
	}
	return NewClient(api, opts, m), m
}

func TestSendMessage_Delivers(t *testing.T) {
	api := &mockAPI{}
	client, m := newTestClient(t, api, Options{})

	require.NoError(t, client.SendMessage(context.Background(), "42", "hello"))

	assert.Equal(t, []sentMessage{{channelID: "42", content: "hello"}}, api.messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("send_message", metrics.ResultOK)))
}

func TestSendMessage_RetriesServerErrors(t *testing.T) {
	api := &mockAPI{sendErrs: []error{restError(http.StatusBadGateway), restError(http.StatusTooManyRequests)}}
	client, _ := newTestClient(t, api, Options{})

	require.NoError(t, client.SendMessage(context.Background(), "42", "hello"))

	assert.Len(t, api.messages(), 1)
}

func TestSendMessage_ClientErrorIsPermanent(t *testing.T) {
	api := &mockAPI{sendErrs: []error{restError(http.StatusForbidden)}}
	client, m := newTestClient(t, api, Options{})

	err := client.SendMessage(context.Background(), "42", "hello")

	var permErr *retry.PermanentError
	assert.ErrorAs(t, err, &permErr)
	assert.Empty(t, api.messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("send_message", metrics.ResultError)))
}

func TestSendMessage_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = errors.New("connection reset")
	}
	api := &mockAPI{sendErrs: errs}
	client, m := newTestClient(t, api, Options{Retry: retry.Policy{MaxAttempts: 1}})
	ctx := context.Background()
	require.NoError(t, client.Healthy(ctx))

	for range 5 {
		_ = client.SendMessage(ctx, "42", "hello")
	}
	err := client.SendMessage(ctx, "42", "hello")

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
	assert.Error(t, client.Healthy(ctx))
}

func TestSendMessage_SplitsLongMessages(t *testing.T) {
	api := &mockAPI{}
	client, _ := newTestClient(t, api, Options{})
	line := strings.Repeat("x", 1500)

	require.NoError(t, client.SendMessage(context.Background(), "42", line+"\n"+line))

	sent := api.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, line, sent[0].content)
	assert.Equal(t, line, sent[1].content)
}

func TestSendMessage_CancelledContext(t *testing.T) {
	api := &mockAPI{}
	client, _ := newTestClient(t, api, Options{SendRate: 0.001})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, client.SendMessage(ctx, "42", "first"))
	cancel()
	err := client.SendMessage(ctx, "42", "second")

	assert.Error(t, err)
	assert.Len(t, api.messages(), 1)
}

func TestResolveDisplayName_PrefersNickThenGlobalName(t *testing.T) {
	api := &mockAPI{
		members: map[string]*discordgo.Member{
			"1": {Nick: "Nick", User: &discordgo.User{Username: "user1", GlobalName: "Global"}},
			"2": {User: &discordgo.User{Username: "user2", GlobalName: "Global Two"}},
		},
		users: map[string]*discordgo.User{"3": {Username: "user3"}},
	}
	client, _ := newTestClient(t, api, Options{GuildID: "guild"})
	ctx := context.Background()

	for id, want := range map[domain.UserID]string{1: "Nick", 2: "Global Two", 3: "user3"} {
		name, err := client.ResolveDisplayName(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, name)
	}
}

func TestResolveDisplayName_CachesUntilTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &mockAPI{users: map[string]*discordgo.User{"7": {Username: "seven"}}}
	client, _ := newTestClient(t, api, Options{Clock: clock})
	ctx := context.Background()

	for range 3 {
		name, err := client.ResolveDisplayName(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "seven", name)
	}
	assert.Equal(t, int32(1), api.userCalls.Load())

	clock.Advance(nameCacheTTL + time.Second)
	_, err := client.ResolveDisplayName(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.userCalls.Load())
}

func TestResolveDisplayName_DeduplicatesConcurrentLookups(t *testing.T) {
	api := &mockAPI{users: map[string]*discordgo.User{"9": {Username: "nine"}}, userDelay: 50 * time.Millisecond}
	client, _ := newTestClient(t, api, Options{})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := client.ResolveDisplayName(context.Background(), 9)
			assert.NoError(t, err)
			assert.Equal(t, "nine", name)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), api.userCalls.Load())
}

func TestResolveDisplayName_GuildErrorPropagates(t *testing.T) {
	api := &mockAPI{memberErr: restError(http.StatusInternalServerError)}
	client, m := newTestClient(t, api, Options{GuildID: "guild"})

	_, err := client.ResolveDisplayName(context.Background(), 1)

	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("resolve_name", metrics.ResultError)))
}

func TestResolveDisplayName_UnknownUser(t *testing.T) {
	client, _ := newTestClient(t, &mockAPI{}, Options{})

	_, err := client.ResolveDisplayName(context.Background(), 404)

	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, retry.After, classify(restError(http.StatusTooManyRequests)))
	assert.Equal(t, retry.Retry, classify(restError(http.StatusServiceUnavailable)))
	assert.Equal(t, retry.Stop, classify(restError(http.StatusBadRequest)))
	assert.Equal(t, retry.Retry, classify(errors.New("dial tcp: timeout")))
	assert.Equal(t, retry.Stop, classify(gobreaker.ErrOpenState))
	assert.Equal(t, retry.Stop, classify(context.Canceled))
	assert.Equal(t, retry.Stop, classify(fmt.Errorf("%w: %w", errSendWait, errors.New("rate: Wait(n=1) would exceed context deadline"))))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"abc", "def"}, splitMessage("abc\ndef", 5))
	assert.Equal(t, []string{"abcde", "fgh"}, splitMessage("abcdefgh", 5))
	assert.Equal(t, []string{"ab", "é"}, splitMessage("abé", 3))
	assert.Equal(t, []string{"é", "é"}, splitMessage("éé", 1))
	assert.Equal(t, []string{"\n", "b"}, splitMessage("\nb", 1))
}

func TestSplitMessage_InvalidUTF8(t *testing.T) {
	done := make(chan []string, 1)
	go func() { done <- splitMessage(strings.Repeat("\x80", 2500), maxMessageLength) }()

	select {
	case chunks := <-done:
		assert.Equal(t, []string{"\uFFFD"}, chunks)
	case <-time.After(2 * time.Second):
		t.Fatal("splitMessage did not return")
	}

	chunks := splitMessage("ab"+strings.Repeat("\xff", 10)+"cd", 3)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, len(chunk), 3)
	}
	assert.Equal(t, "ab\uFFFDcd", strings.Join(chunks, ""))
}

func TestSendMessage_LimiterDeadlineIsNotRetried(t *testing.T) {
	api := &mockAPI{}
	client, _ := newTestClient(t, api, Options{SendRate: 0.001})
	require.NoError(t, client.SendMessage(context.Background(), "42", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.SendMessage(ctx, "42", "second")

	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, errSendWait)
	assert.Len(t, api.messages(), 1)
}

func TestResolveDisplayName_SharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	api := &mockAPI{users: map[string]*discordgo.User{"9": {Username: "nine"}}, userDelay: 100 * time.Millisecond}
	client, _ := newTestClient(t, api, Options{})

	first, cancelFirst := context.WithCancel(context.Background())
	go func() { _, _ = client.ResolveDisplayName(first, 9) }()
	require.Eventually(t, func() bool { return api.userCalls.Load() == 1 }, time.Second, time.Millisecond)

	resultCh := make(chan string, 1)
	go func() {
		name, _ := client.ResolveDisplayName(context.Background(), 9)
		resultCh <- name
	}()
	cancelFirst()

	assert.Equal(t, "nine", <-resultCh)
	assert.Equal(t, int32(1), api.userCalls.Load())
}
