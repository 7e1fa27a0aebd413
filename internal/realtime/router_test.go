package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"commi8/internal/auth"
	"commi8/internal/database"
	"commi8/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *database.Memory
	tokens *auth.TokenManager
	router *Router
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()

	db := database.NewMemory()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	opts := Options{
		Verifier:     auth.NewVerifier(tokens, db),
		Directory:    db,
		Messages:     db,
		Presence:     db,
		Logger:       discardLogger(),
		AuthTimeout:  time.Second,
		StoreTimeout: time.Second,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	return &fixture{db: db, tokens: tokens, router: NewRouter(opts)}
}

func (f *fixture) user(t *testing.T, name string) (models.User, string) {
	t.Helper()

	user, err := f.db.CreateUser(context.Background(), models.User{
		Username:  name,
		Email:     name + "@example.com",
		AvatarURL: name + ".png",
	})
	require.NoError(t, err)

	token, err := f.tokens.Issue(user.ID)
	require.NoError(t, err)
	return user, token
}

func (f *fixture) server(t *testing.T, owner models.User, members ...models.User) models.Server {
	t.Helper()

	ctx := context.Background()
	server, err := f.db.CreateServer(ctx, models.Server{Name: owner.Username + "'s server", OwnerID: owner.ID})
	require.NoError(t, err)
	for _, member := range members {
		require.NoError(t, f.db.AddServerMember(ctx, server.ID, member.ID, models.RoleMember))
	}
	return server
}

func (f *fixture) connect(t *testing.T, token string) (*Session, *fakeTransport) {
	t.Helper()

	sess, transport := newTestSession()
	require.NoError(t, f.router.Connect(context.Background(), sess, token))
	return sess, transport
}

func (f *fixture) send(t *testing.T, sess *Session, event string, data any) error {
	t.Helper()

	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return f.router.Dispatch(sess, raw)
}

func textChannel(server models.Server) models.Channel {
	for _, channel := range server.Channels {
		if channel.Type == models.ChannelText {
			return channel
		}
	}
	panic("server has no text channel")
}

func voiceChannel(server models.Server) models.Channel {
	for _, channel := range server.Channels {
		if channel.Type == models.ChannelVoice {
			return channel
		}
	}
	panic("server has no voice channel")
}

func TestConnectAnnouncesPresence(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	server := f.server(t, alice, bob)

	bobSess, bobTransport := f.connect(t, bobToken)
	assert.Equal(t, StateAuthenticated, bobSess.State())
	assert.True(t, f.router.Registry().Has(ServerRoom(server.ID), bobSess))
	assert.True(t, f.router.Registry().Has(ChannelRoom(textChannel(server).ID), bobSess))
	assert.True(t, f.router.Registry().Has(UserRoom(bob.ID), bobSess))

	_, aliceTransport := f.connect(t, aliceToken)

	changes := bobTransport.named(t, EventUserStatusChange)
	require.Len(t, changes, 1)
	assert.Equal(t, UserStatusChange{UserID: alice.ID, Status: models.StatusOnline}, decodeData[UserStatusChange](t, changes[0]))
	assert.Empty(t, aliceTransport.named(t, EventUserStatusChange), "no self announcement")

	stored, err := f.db.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, stored.Status)
}

func TestConnectRefusesBadTokens(t *testing.T) {
	f := newFixture(t)

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "abc.def.ghi",
		"forged":  mustIssue(t, auth.NewTokenManager("other", time.Hour), "someone"),
		"unknown": mustIssue(t, f.tokens, "nobody"),
	} {
		t.Run(name, func(t *testing.T) {
			sess, transport := newTestSession()
			err := f.router.Connect(context.Background(), sess, token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			assert.Equal(t, StateClosed, sess.State())
			assert.True(t, transport.isClosed())
			assert.Empty(t, transport.received(t))
			assert.Equal(t, 0, f.router.Sessions())
		})
	}
}

func mustIssue(t *testing.T, tokens *auth.TokenManager, userID string) string {
	t.Helper()
	token, err := tokens.Issue(userID)
	require.NoError(t, err)
	return token
}

func TestMessageFanOut(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	_, bobToken := f.user(t, "bob")
	server := f.server(t, alice)
	require.NoError(t, f.db.AddServerMember(context.Background(), server.ID, mustUserID(t, f, "bob"), ""))
	channel := textChannel(server)

	phone, phoneTransport := f.connect(t, aliceToken)
	_, laptopTransport := f.connect(t, aliceToken)
	_, bobTransport := f.connect(t, bobToken)

	require.NoError(t, f.send(t, phone, EventMessage, map[string]any{
		"token":      aliceToken,
		"channel_id": channel.ID,
		"content":    "hi",
	}))

	page, err := f.db.GetChannelMessages(context.Background(), channel.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	stored := page.Messages[0]
	assert.Equal(t, "hi", stored.Content)
	assert.Equal(t, channel.ID, stored.ChannelID)
	assert.Equal(t, alice.ID, stored.Author.ID)

	for _, transport := range []*fakeTransport{phoneTransport, laptopTransport, bobTransport} {
		frames := transport.named(t, EventNewMessage)
		require.Len(t, frames, 1)
		got := decodeData[NewMessage](t, frames[0]).Message
		assert.Equal(t, stored.ID, got.ID)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, "hi", got.Content)
		assert.Equal(t, channel.ID, got.ChannelID)
		assert.Equal(t, models.Author{ID: alice.ID, Username: "alice", AvatarURL: "alice.png"}, got.Author)
	}
}

func mustUserID(t *testing.T, f *fixture, username string) string {
	t.Helper()
	user, err := f.db.FindUser(context.Background(), username, "")
	require.NoError(t, err)
	return user.ID
}

func TestMessageOnlyReachesItsChannel(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)
	other, err := f.db.CreateChannel(context.Background(), models.Channel{Name: "other", Type: models.ChannelText, ServerID: server.ID})
	require.NoError(t, err)

	sess, _ := f.connect(t, aliceToken)
	watcher, watcherTransport := newTestSession()
	f.router.Registry().Join(ChannelRoom(other.ID), watcher)

	require.NoError(t, f.send(t, sess, EventMessage, map[string]any{
		"token": aliceToken, "channel_id": textChannel(server).ID, "content": "hi",
	}))
	assert.Empty(t, watcherTransport.received(t))
}

func TestMessageOnVoiceChannelIsDropped(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)
	voice := voiceChannel(server)

	sess, transport := f.connect(t, aliceToken)
	err := f.send(t, sess, EventMessage, map[string]any{
		"token": aliceToken, "channel_id": voice.ID, "content": "hi",
	})
	assert.ErrorIs(t, err, errWrongChannelType)

	page, err := f.db.GetChannelMessages(context.Background(), voice.ID, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, transport.named(t, EventNewMessage))
}

func TestMessageFromNonMemberIsDropped(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.user(t, "alice")
	_, bobToken := f.user(t, "bob")
	server := f.server(t, alice)
	channel := textChannel(server)

	bob, _ := f.connect(t, bobToken)
	err := f.send(t, bob, EventMessage, map[string]any{
		"token": bobToken, "channel_id": channel.ID, "content": "hi",
	})
	assert.ErrorIs(t, err, ErrForbidden)

	page, err := f.db.GetChannelMessages(context.Background(), channel.ID, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestMessageTooLong(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxMessageLength = 5 })
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)

	sess, _ := f.connect(t, aliceToken)
	err := f.send(t, sess, EventMessage, map[string]any{
		"token": aliceToken, "channel_id": textChannel(server).ID, "content": "too long",
	})
	assert.ErrorIs(t, err, errMessageTooLong)
}

type failingStore struct{}

func (failingStore) CreateMessage(context.Context, models.Message) (models.Message, error) {
	return models.Message{}, errors.New("disk full")
}

func TestPersistenceFailureIsUnicast(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Messages = failingStore{} })
	alice, aliceToken := f.user(t, "alice")
	_, bobToken := f.user(t, "bob")
	server := f.server(t, alice)
	require.NoError(t, f.db.AddServerMember(context.Background(), server.ID, mustUserID(t, f, "bob"), ""))

	sess, transport := f.connect(t, aliceToken)
	_, bobTransport := f.connect(t, bobToken)
	transport.reset()

	err := f.send(t, sess, EventMessage, map[string]any{
		"token": aliceToken, "channel_id": textChannel(server).ID, "content": "hi",
	})
	assert.ErrorIs(t, err, errPersistence)

	frames := transport.received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, EventError, frames[0].Event)
	assert.Equal(t, sendFailedMessage, decodeData[ErrorPayload](t, frames[0]).Message)

	assert.Empty(t, bobTransport.named(t, EventNewMessage))
	assert.Empty(t, bobTransport.named(t, EventError))
}

type panickingStore struct{}

func (panickingStore) CreateMessage(context.Context, models.Message) (models.Message, error) {
	panic("boom")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Messages = panickingStore{} })
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)

	sess, _ := f.connect(t, aliceToken)
	err := f.send(t, sess, EventMessage, map[string]any{
		"token": aliceToken, "channel_id": textChannel(server).ID, "content": "hi",
	})
	assert.ErrorIs(t, err, errPanic)
	assert.Equal(t, StateAuthenticated, sess.State())
}

func TestJoinChannelRequiresMembership(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	_, bobToken := f.user(t, "bob")
	server := f.server(t, alice)
	channel := textChannel(server)

	_, aliceTransport := f.connect(t, aliceToken)
	bob, bobTransport := f.connect(t, bobToken)
	aliceTransport.reset()

	err := f.send(t, bob, EventJoinChannel, map[string]any{"token": bobToken, "channel_id": channel.ID})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, f.router.Registry().Has(ChannelRoom(channel.ID), bob))
	assert.Empty(t, bobTransport.received(t))
	assert.Empty(t, aliceTransport.received(t))

	err = f.send(t, bob, EventJoinServer, map[string]any{"token": bobToken, "server_id": server.ID})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, f.router.Registry().Has(ServerRoom(server.ID), bob))
}

func TestJoinServerAfterInvite(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	server := f.server(t, alice)

	sess, _ := f.connect(t, bobToken)
	require.NoError(t, f.db.AddServerMember(context.Background(), server.ID, bob.ID, ""))

	// Not pushed: the open session only sees the server once it joins.
	assert.False(t, f.router.Registry().Has(ServerRoom(server.ID), sess))

	require.NoError(t, f.send(t, sess, EventJoinServer, map[string]any{"token": bobToken, "server_id": server.ID}))
	assert.True(t, f.router.Registry().Has(ServerRoom(server.ID), sess))
	for _, channel := range server.Channels {
		assert.True(t, f.router.Registry().Has(ChannelRoom(channel.ID), sess))
	}

	require.NoError(t, f.send(t, sess, EventJoinServer, map[string]any{"token": bobToken, "server_id": server.ID}))
	assert.Len(t, f.router.Registry().Members(ServerRoom(server.ID)), 1)
}

func TestVoiceJoinAndLeave(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	server := f.server(t, alice, bob)
	voice := voiceChannel(server)

	aliceSess, aliceTransport := f.connect(t, aliceToken)
	bobSess, _ := f.connect(t, bobToken)
	aliceTransport.reset()

	require.NoError(t, f.send(t, bobSess, EventJoinChannel, map[string]any{"token": bobToken, "channel_id": voice.ID}))
	joined := aliceTransport.named(t, EventVoiceUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, VoiceUserJoined{
		ChannelID: voice.ID,
		User:      models.Author{ID: bob.ID, Username: "bob", AvatarURL: "bob.png"},
	}, decodeData[VoiceUserJoined](t, joined[0]))

	require.NoError(t, f.send(t, bobSess, EventLeaveChannel, map[string]any{"token": bobToken, "channel_id": voice.ID}))
	left := aliceTransport.named(t, EventVoiceUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, VoiceUserLeft{ChannelID: voice.ID, UserID: bob.ID}, decodeData[VoiceUserLeft](t, left[0]))
	assert.False(t, f.router.Registry().Has(ChannelRoom(voice.ID), bobSess))

	err := f.send(t, bobSess, EventLeaveChannel, map[string]any{"token": bobToken, "channel_id": voice.ID})
	assert.ErrorIs(t, err, errNotJoined)
	assert.Len(t, aliceTransport.named(t, EventVoiceUserLeft), 1)
	assert.True(t, f.router.Registry().Has(ChannelRoom(voice.ID), aliceSess))
}

func TestTyping(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	_, bobToken := f.user(t, "bob")
	server := f.server(t, alice)
	require.NoError(t, f.db.AddServerMember(context.Background(), server.ID, mustUserID(t, f, "bob"), ""))

	aliceSess, _ := f.connect(t, aliceToken)
	_, bobTransport := f.connect(t, bobToken)

	require.NoError(t, f.send(t, aliceSess, EventTyping, map[string]any{"token": aliceToken, "channel_id": textChannel(server).ID}))
	typing := bobTransport.named(t, EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, UserTyping{
		ChannelID: textChannel(server).ID,
		User:      TypingUser{ID: alice.ID, Username: "alice"},
	}, decodeData[UserTyping](t, typing[0]))

	err := f.send(t, aliceSess, EventTyping, map[string]any{"token": aliceToken, "channel_id": voiceChannel(server).ID})
	assert.ErrorIs(t, err, errWrongChannelType)
}

func TestVoiceSignalIsUnicastToTarget(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	_, carolToken := f.user(t, "carol")
	server := f.server(t, alice, bob)
	require.NoError(t, f.db.AddServerMember(context.Background(), server.ID, mustUserID(t, f, "carol"), ""))
	voice := voiceChannel(server)

	aliceSess, aliceTransport := f.connect(t, aliceToken)
	_, aliceOtherTransport := f.connect(t, aliceToken)
	_, bobTransport := f.connect(t, bobToken)
	_, carolTransport := f.connect(t, carolToken)

	require.NoError(t, f.send(t, aliceSess, EventVoiceSignal, map[string]any{
		"token":          aliceToken,
		"channel_id":     voice.ID,
		"target_user_id": bob.ID,
		"signal":         map[string]string{"type": "offer", "sdp": "v=0"},
	}))

	signals := bobTransport.named(t, EventVoiceSignal)
	require.Len(t, signals, 1)
	relayed := decodeData[RelayedSignal](t, signals[0])
	assert.Equal(t, voice.ID, relayed.ChannelID)
	assert.Equal(t, alice.ID, relayed.FromUserID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(relayed.Signal))

	assert.Empty(t, aliceTransport.named(t, EventVoiceSignal))
	assert.Empty(t, aliceOtherTransport.named(t, EventVoiceSignal))
	assert.Empty(t, carolTransport.named(t, EventVoiceSignal))

	err := f.send(t, aliceSess, EventVoiceSignal, map[string]any{
		"token": aliceToken, "channel_id": voice.ID, "target_user_id": alice.ID, "signal": "x",
	})
	assert.ErrorIs(t, err, errSignalToSender)
	assert.Empty(t, aliceOtherTransport.named(t, EventVoiceSignal))

	err = f.send(t, aliceSess, EventVoiceSignal, map[string]any{
		"token": aliceToken, "channel_id": textChannel(server).ID, "target_user_id": bob.ID, "signal": "x",
	})
	assert.ErrorIs(t, err, errWrongChannelType)
	assert.Len(t, bobTransport.named(t, EventVoiceSignal), 1)
}

func TestDisconnectOfOneDevice(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	server := f.server(t, alice, bob)
	channel := textChannel(server)

	device1, device1Transport := f.connect(t, aliceToken)
	device2, device2Transport := f.connect(t, aliceToken)
	bobSess, bobTransport := f.connect(t, bobToken)
	device2Transport.reset()
	bobTransport.reset()

	f.router.Disconnect(device1)
	assert.Equal(t, StateClosed, device1.State())
	assert.Empty(t, f.router.Registry().Rooms(device1))

	for _, transport := range []*fakeTransport{device2Transport, bobTransport} {
		changes := transport.named(t, EventUserStatusChange)
		require.Len(t, changes, 1)
		assert.Equal(t, UserStatusChange{UserID: alice.ID, Status: models.StatusOffline}, decodeData[UserStatusChange](t, changes[0]))
	}

	assert.True(t, f.router.Registry().Has(ServerRoom(server.ID), device2))
	require.NoError(t, f.send(t, bobSess, EventMessage, map[string]any{
		"token": bobToken, "channel_id": channel.ID, "content": "still there?",
	}))
	assert.Len(t, device2Transport.named(t, EventNewMessage), 1)
	assert.Empty(t, device1Transport.named(t, EventNewMessage))

	stored, err := f.db.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, stored.Status)

	f.router.Disconnect(device1)
	assert.Len(t, bobTransport.named(t, EventUserStatusChange), 1, "second disconnect is a no-op")
}

func TestClosedSessionIgnoresEvents(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)

	sess, _ := f.connect(t, aliceToken)
	f.router.Disconnect(sess)

	err := f.send(t, sess, EventJoinServer, map[string]any{"token": aliceToken, "server_id": server.ID})
	assert.ErrorIs(t, err, errNotAuthenticated)
	assert.Empty(t, f.router.Registry().Rooms(sess))
}

func TestConnectingSessionIgnoresEvents(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)

	sess, _ := newTestSession()
	err := f.send(t, sess, EventJoinServer, map[string]any{"token": aliceToken, "server_id": server.ID})
	assert.ErrorIs(t, err, errNotAuthenticated)
}

func TestEventsAreReverified(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	server := f.server(t, alice, bob)
	channel := textChannel(server)

	sess, _ := f.connect(t, aliceToken)

	err := f.send(t, sess, EventMessage, map[string]any{"token": bobToken, "channel_id": channel.ID, "content": "spoof"})
	assert.ErrorIs(t, err, errTokenMismatch)

	err = f.send(t, sess, EventMessage, map[string]any{"token": "bogus", "channel_id": channel.ID, "content": "hi"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	err = f.send(t, sess, EventMessage, map[string]any{"channel_id": channel.ID, "content": "hi"})
	assert.ErrorIs(t, err, errMalformed)

	page, err := f.db.GetChannelMessages(context.Background(), channel.ID, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	f.server(t, alice)

	sess, transport := f.connect(t, aliceToken)
	transport.reset()

	for name, raw := range map[string]string{
		"not json":      `hello`,
		"unknown event": `{"event":"shout","data":{}}`,
		"no data":       `{"event":"typing"}`,
		"extra field":   `{"event":"typing","data":{"token":"x","channel_id":"c","mood":"happy"}}`,
		"wrong type":    `{"event":"typing","data":{"token":5,"channel_id":"c"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, f.router.Dispatch(sess, []byte(raw)))
		})
	}

	assert.Empty(t, transport.received(t))
	assert.Equal(t, StateAuthenticated, sess.State())
}

func TestUnknownChannelIsDropped(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	f.server(t, alice)

	sess, _ := f.connect(t, aliceToken)
	for _, event := range []string{EventJoinChannel, EventLeaveChannel, EventTyping} {
		err := f.send(t, sess, event, map[string]any{"token": aliceToken, "channel_id": 12345})
		assert.ErrorIs(t, err, ErrNotFound, event)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 2
	})
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)
	channel := textChannel(server)

	sess, _ := f.connect(t, aliceToken)
	typing := map[string]any{"token": aliceToken, "channel_id": channel.ID}

	assert.NoError(t, f.send(t, sess, EventTyping, typing))
	assert.NoError(t, f.send(t, sess, EventTyping, typing))
	assert.ErrorIs(t, f.send(t, sess, EventTyping, typing), errRateLimited)
}

func TestChannelLifecycleRooms(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	server := f.server(t, alice)

	sess, transport := f.connect(t, aliceToken)

	channel, err := f.db.CreateChannel(context.Background(), models.Channel{Name: "new", Type: models.ChannelText, ServerID: server.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.router.ChannelCreated(channel))
	assert.True(t, f.router.Registry().Has(ChannelRoom(channel.ID), sess))

	message, err := f.db.CreateMessage(context.Background(), models.Message{
		Content: "from rest", ChannelID: channel.ID, Author: alice.Author(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.router.BroadcastMessage(message))
	assert.Len(t, transport.named(t, EventNewMessage), 1)

	assert.Equal(t, 1, f.router.ChannelDeleted(channel.ID))
	assert.False(t, f.router.Registry().Has(ChannelRoom(channel.ID), sess))
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	f.server(t, alice)

	sess, transport := f.connect(t, aliceToken)
	assert.Equal(t, 1, f.router.Sessions())

	require.NoError(t, f.router.Shutdown(context.Background()))
	assert.Equal(t, StateClosed, sess.State())
	assert.True(t, transport.isClosed())
	assert.Equal(t, 0, f.router.Sessions())
	assert.Equal(t, 0, f.router.Registry().Len())
}

func TestBrokenTransportIsRemovedOnBroadcast(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	_, bobToken := f.user(t, "bob")
	server := f.server(t, alice)
	require.NoError(t, f.db.AddServerMember(context.Background(), server.ID, mustUserID(t, f, "bob"), ""))
	channel := textChannel(server)

	aliceSess, _ := f.connect(t, aliceToken)
	bobSess, bobTransport := f.connect(t, bobToken)
	bobTransport.breakDown()

	require.NoError(t, f.send(t, aliceSess, EventMessage, map[string]any{
		"token": aliceToken, "channel_id": channel.ID, "content": "hi",
	}))
	assert.False(t, f.router.Registry().Has(ChannelRoom(channel.ID), bobSess))
	assert.True(t, f.router.Registry().Has(ChannelRoom(channel.ID), aliceSess))
}

// closingPresence closes a session the first time its user goes online,
// as a concurrent shutdown would.
type closingPresence struct {
	PresenceStore
	disconnect func()
	done       bool
}

func (p *closingPresence) UpdateUserStatus(ctx context.Context, userId string, status models.Status) error {
	if status == models.StatusOnline && p.disconnect != nil && !p.done {
		p.done = true
		p.disconnect()
	}
	return p.PresenceStore.UpdateUserStatus(ctx, userId, status)
}

func TestSessionClosedWhileOpening(t *testing.T) {
	presence := &closingPresence{}
	f := newFixture(t, func(o *Options) {
		presence.PresenceStore = o.Presence
		o.Presence = presence
	})
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	f.server(t, bob, alice)

	_, bobTransport := f.connect(t, bobToken)

	sess, transport := newTestSession()
	presence.disconnect = func() { f.router.Disconnect(sess) }

	err := f.router.Connect(context.Background(), sess, aliceToken)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, StateClosed, sess.State())
	assert.True(t, transport.isClosed())

	assert.Equal(t, 1, f.router.Sessions(), "only bob stays tracked")
	assert.Empty(t, f.router.Registry().Rooms(sess))

	statuses := bobTransport.named(t, EventUserStatusChange)
	require.Len(t, statuses, 1)
	change := decodeData[UserStatusChange](t, statuses[0])
	assert.Equal(t, alice.ID, change.UserID)
	assert.Equal(t, models.StatusOffline, change.Status)

	stored, err := f.db.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, stored.Status)
}
