package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"commi8/internal/auth"
	"commi8/internal/models"

	"golang.org/x/time/rate"
)

type Verifier interface {
	Verify(ctx context.Context, token string) (models.User, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, message models.Message) (models.Message, error)
}

type PresenceStore interface {
	UpdateUserStatus(ctx context.Context, userId string, status models.Status) error
}

type Options struct {
	Verifier  Verifier
	Directory Directory
	Messages  MessageStore
	Presence  PresenceStore
	Registry  *Registry
	Logger    *slog.Logger

	AuthTimeout      time.Duration
	StoreTimeout     time.Duration
	MaxMessageLength int

	// RateLimit caps inbound frames per session. Zero disables it.
	RateLimit rate.Limit
	RateBurst int
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")

	errNotAuthenticated = errors.New("session is not authenticated")
	errUnknownEvent     = errors.New("unknown event")
	errMalformed        = errors.New("malformed payload")
	errTokenMismatch    = errors.New("token belongs to another user")
	errRateLimited      = errors.New("rate limited")
	errWrongChannelType = errors.New("wrong channel type")
	errNotJoined        = errors.New("session has not joined the channel")
	errMessageTooLong   = errors.New("message too long")
	errPersistence      = errors.New("message could not be persisted")
	errPanic            = errors.New("handler panicked")
)

const sendFailedMessage = "message could not be sent"

type dispatchFunc func(sess *Session, data json.RawMessage) error

// Router drives sessions through their lifecycle and dispatches inbound
// events. Events for a single session must be dispatched sequentially.
type Router struct {
	verifier Verifier
	oracle   *Oracle
	messages MessageStore
	presence PresenceStore
	rooms    *Registry
	logger   *slog.Logger

	authTimeout      time.Duration
	storeTimeout     time.Duration
	maxMessageLength int
	rateLimit        rate.Limit
	rateBurst        int

	handlers map[string]dispatchFunc

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewRouter(opts Options) *Router {
	r := &Router{
		verifier:         opts.Verifier,
		oracle:           NewOracle(opts.Directory),
		messages:         opts.Messages,
		presence:         opts.Presence,
		rooms:            opts.Registry,
		logger:           opts.Logger,
		authTimeout:      opts.AuthTimeout,
		storeTimeout:     opts.StoreTimeout,
		maxMessageLength: opts.MaxMessageLength,
		rateLimit:        opts.RateLimit,
		rateBurst:        opts.RateBurst,
		sessions:         make(map[*Session]struct{}),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.rooms == nil {
		r.rooms = NewRegistry(r.logger)
	}
	if r.authTimeout <= 0 {
		r.authTimeout = 5 * time.Second
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = 5 * time.Second
	}
	if r.maxMessageLength <= 0 {
		r.maxMessageLength = 2000
	}
	if r.rateLimit > 0 && r.rateBurst <= 0 {
		r.rateBurst = 1
	}

	r.handlers = map[string]dispatchFunc{
		EventJoinServer:   handle(r, r.joinServer),
		EventJoinChannel:  handle(r, r.joinChannel),
		EventLeaveChannel: handle(r, r.leaveChannel),
		EventMessage:      handle(r, r.sendMessage),
		EventTyping:       handle(r, r.typing),
		EventVoiceSignal:  handle(r, r.voiceSignal),
	}

	return r
}

func (r *Router) Registry() *Registry { return r.rooms }

// handle decodes and validates a command, then re-verifies its token
// against the session identity before running fn.
func handle[T command](r *Router, fn func(sess *Session, user models.User, cmd T) error) dispatchFunc {
	return func(sess *Session, data json.RawMessage) error {
		var cmd T
		if err := decodeStrict(data, &cmd); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		if err := cmd.validate(); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}

		user, err := r.reverify(sess, cmd.credential())
		if err != nil {
			return err
		}
		return fn(sess, user, cmd)
	}
}

func (r *Router) reverify(sess *Session, token string) (models.User, error) {
	ctx, cancel := context.WithTimeout(sess.Context(), r.authTimeout)
	defer cancel()

	user, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %s", ErrUnauthenticated, auth.Reason(err))
	}
	if user.ID != sess.User().ID {
		return models.User{}, errTokenMismatch
	}
	return user, nil
}

func (r *Router) storeContext(sess *Session) (context.Context, context.CancelFunc) {
	return context.WithTimeout(sess.Context(), r.storeTimeout)
}

// Authenticate verifies a connect token. Callers refuse the connection on
// any error.
func (r *Router) Authenticate(ctx context.Context, token string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.authTimeout)
	defer cancel()

	user, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.logger.Info("connection refused", "reason", auth.Reason(err))
		return models.User{}, fmt.Errorf("%w: %s", ErrUnauthenticated, auth.Reason(err))
	}
	return user, nil
}

// Connect authenticates an already open session, closing it on failure.
func (r *Router) Connect(ctx context.Context, sess *Session, token string) error {
	user, err := r.Authenticate(ctx, token)
	if err != nil {
		sess.close()
		return err
	}
	return r.Open(sess, user)
}

// Open moves a session to Authenticated for an already verified user:
// it joins the user inbox, marks the user online, announces it to every
// server of the user and joins those servers and their channels.
func (r *Router) Open(sess *Session, user models.User) error {
	var limiter *rate.Limiter
	if r.rateLimit > 0 {
		limiter = rate.NewLimiter(r.rateLimit, r.rateBurst)
	}
	if !sess.authenticate(user, limiter) {
		return errNotAuthenticated
	}

	r.track(sess)
	// Disconnect marks the session closed before untracking it.
	if sess.State() == StateClosed {
		r.untrack(sess)
		return ErrSessionClosed
	}
	r.join(sess, UserRoom(user.ID))

	ctx, cancel := r.storeContext(sess)
	defer cancel()

	servers, err := r.oracle.UserServers(ctx, user.ID)
	if err != nil {
		r.logger.Warn("failed to list user servers", "user", user.ID, "err", err)
	}

	if err := r.presence.UpdateUserStatus(ctx, user.ID, models.StatusOnline); err != nil {
		r.logger.Warn("failed to persist status", "user", user.ID, "status", models.StatusOnline, "err", err)
	}

	// Closed while loading: Disconnect may already have written and announced
	// offline, so the online write above must not stand.
	if sess.State() == StateClosed {
		r.rooms.LeaveAll(sess)
		r.persistOffline(user.ID)
		return ErrSessionClosed
	}

	ids := make([]string, 0, len(servers))
	for _, server := range servers {
		ids = append(ids, server.ID)
		r.rooms.Broadcast(ServerRoom(server.ID), EventUserStatusChange, UserStatusChange{
			UserID: user.ID,
			Status: models.StatusOnline,
		})
	}

	keys := make([]Key, 0)
	for _, server := range servers {
		keys = append(keys, ServerRoom(server.ID))
		for _, channel := range server.Channels {
			keys = append(keys, ChannelRoom(channel.ID))
		}
	}
	sess.setServers(ids)
	r.join(sess, keys...)

	r.logger.Debug("session authenticated", "session", sess.ID(), "user", user.ID, "servers", len(ids))
	return nil
}

// join adds the session to rooms, undoing it if the session closed
// concurrently.
func (r *Router) join(sess *Session, keys ...Key) {
	for _, key := range keys {
		r.rooms.Join(key, sess)
	}
	if sess.State() == StateClosed {
		r.rooms.LeaveAll(sess)
	}
}

// Disconnect closes the session. For an authenticated session it leaves
// every room, marks the user offline and announces it to the user's
// servers. Calling it more than once is harmless.
func (r *Router) Disconnect(sess *Session) {
	prev := sess.close()
	r.untrack(sess)
	if prev != StateAuthenticated {
		return
	}

	r.rooms.LeaveAll(sess)
	user := sess.User()

	r.persistOffline(user.ID)

	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()

	ids := sess.knownServers()
	if servers, err := r.oracle.UserServers(ctx, user.ID); err == nil {
		ids = ids[:0]
		for _, server := range servers {
			ids = append(ids, server.ID)
		}
	}

	for _, id := range ids {
		r.rooms.Broadcast(ServerRoom(id), EventUserStatusChange, UserStatusChange{
			UserID: user.ID,
			Status: models.StatusOffline,
		})
	}

	r.logger.Debug("session closed", "session", sess.ID(), "user", user.ID)
}

// persistOffline writes the offline status. The session context is gone by
// then, so the write gets its own deadline.
func (r *Router) persistOffline(userId string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()

	if err := r.presence.UpdateUserStatus(ctx, userId, models.StatusOffline); err != nil {
		r.logger.Warn("failed to persist status", "user", userId, "status", models.StatusOffline, "err", err)
	}
}

// Dispatch handles one inbound frame. Every failure is a silent drop for
// the sender; the returned error only says why.
func (r *Router) Dispatch(sess *Session, raw []byte) (err error) {
	var event string
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked", "session", sess.ID(), "event", event, "panic", rec)
			err = errPanic
		}
		if err != nil && !errors.Is(err, errPanic) {
			r.logger.Debug("event dropped", "session", sess.ID(), "event", event, "reason", err)
		}
	}()

	if sess.State() != StateAuthenticated {
		return errNotAuthenticated
	}
	if !sess.allow() {
		return errRateLimited
	}

	frame, err := decodeFrame(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	event = frame.Event

	handler, ok := r.handlers[frame.Event]
	if !ok {
		return errUnknownEvent
	}
	return handler(sess, frame.Data)
}

func (r *Router) joinServer(sess *Session, user models.User, cmd JoinServer) error {
	ctx, cancel := r.storeContext(sess)
	defer cancel()

	serverId := cmd.ServerID.String()
	if err := r.oracle.RequireMember(ctx, user.ID, serverId); err != nil {
		return err
	}
	channels, err := r.oracle.ServerChannels(ctx, serverId)
	if err != nil {
		return err
	}

	keys := []Key{ServerRoom(serverId)}
	for _, channel := range channels {
		keys = append(keys, ChannelRoom(channel.ID))
	}
	r.join(sess, keys...)
	sess.addServer(serverId)
	return nil
}

func (r *Router) joinChannel(sess *Session, user models.User, cmd ChannelCommand) error {
	ctx, cancel := r.storeContext(sess)
	defer cancel()

	channel, err := r.oracle.ChannelForMember(ctx, user.ID, cmd.ChannelID.String())
	if err != nil {
		return err
	}

	room := ChannelRoom(channel.ID)
	r.join(sess, room)

	if channel.Type == models.ChannelVoice {
		r.rooms.Broadcast(room, EventVoiceUserJoined, VoiceUserJoined{
			ChannelID: channel.ID,
			User:      user.Author(),
		})
	}
	return nil
}

func (r *Router) leaveChannel(sess *Session, user models.User, cmd ChannelCommand) error {
	ctx, cancel := r.storeContext(sess)
	defer cancel()

	channel, err := r.oracle.Channel(ctx, cmd.ChannelID.String())
	if err != nil {
		return err
	}

	room := ChannelRoom(channel.ID)
	if !r.rooms.Leave(room, sess) {
		return errNotJoined
	}

	if channel.Type == models.ChannelVoice {
		r.rooms.Broadcast(room, EventVoiceUserLeft, VoiceUserLeft{
			ChannelID: channel.ID,
			UserID:    user.ID,
		})
	}
	return nil
}

func (r *Router) sendMessage(sess *Session, user models.User, cmd SendMessage) error {
	if utf8.RuneCountInString(cmd.Content) > r.maxMessageLength {
		return errMessageTooLong
	}

	ctx, cancel := r.storeContext(sess)
	defer cancel()

	channel, err := r.oracle.Channel(ctx, cmd.ChannelID.String())
	if err != nil {
		return err
	}
	if channel.Type != models.ChannelText {
		return errWrongChannelType
	}
	if err := r.oracle.RequireMember(ctx, user.ID, channel.ServerID); err != nil {
		return err
	}

	stored, err := r.messages.CreateMessage(ctx, models.Message{
		Content:   cmd.Content,
		ChannelID: channel.ID,
		Author:    user.Author(),
	})
	if err != nil {
		if sess.Context().Err() == nil {
			if err := sess.Emit(EventError, ErrorPayload{Message: sendFailedMessage}); err != nil {
				r.logger.Warn("failed to report send error", "session", sess.ID(), "err", err)
			}
		}
		return fmt.Errorf("%w: %v", errPersistence, err)
	}

	// Committed, but the sender is gone: nothing is broadcast.
	if sess.Context().Err() != nil {
		return ErrSessionClosed
	}

	r.BroadcastMessage(stored)
	return nil
}

func (r *Router) typing(sess *Session, user models.User, cmd ChannelCommand) error {
	ctx, cancel := r.storeContext(sess)
	defer cancel()

	channel, err := r.oracle.Channel(ctx, cmd.ChannelID.String())
	if err != nil {
		return err
	}
	if channel.Type != models.ChannelText {
		return errWrongChannelType
	}

	r.rooms.Broadcast(ChannelRoom(channel.ID), EventUserTyping, UserTyping{
		ChannelID: channel.ID,
		User:      TypingUser{ID: user.ID, Username: user.Username},
	})
	return nil
}

func (r *Router) voiceSignal(sess *Session, user models.User, cmd VoiceSignal) error {
	target := cmd.TargetUserID.String()
	if target == user.ID {
		return errSignalToSender
	}

	ctx, cancel := r.storeContext(sess)
	defer cancel()

	channel, err := r.oracle.Channel(ctx, cmd.ChannelID.String())
	if err != nil {
		return err
	}
	if channel.Type != models.ChannelVoice {
		return errWrongChannelType
	}

	r.rooms.Broadcast(UserRoom(target), EventVoiceSignal, RelayedSignal{
		ChannelID:  channel.ID,
		FromUserID: user.ID,
		Signal:     cmd.Signal,
	})
	return nil
}

// BroadcastMessage fans a stored message out to its channel room.
func (r *Router) BroadcastMessage(message models.Message) int {
	return r.rooms.Broadcast(ChannelRoom(message.ChannelID), EventNewMessage, newMessage(message))
}

// ChannelCreated joins everyone currently in the server room to the new
// channel room.
func (r *Router) ChannelCreated(channel models.Channel) int {
	return r.rooms.Mirror(ServerRoom(channel.ServerID), ChannelRoom(channel.ID))
}

// ChannelDeleted drops the channel room.
func (r *Router) ChannelDeleted(channelId string) int {
	return len(r.rooms.Evict(ChannelRoom(channelId)))
}

func (r *Router) track(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess] = struct{}{}
}

func (r *Router) untrack(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sess)
}

// Sessions is the number of authenticated sessions.
func (r *Router) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown disconnects every authenticated session.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Disconnect(sess)
	}
	return nil
}
