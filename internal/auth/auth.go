package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "session"
	tokenKey    = "token"
)

var ErrNoSession = errors.New("no session token")

// Sessions keeps the bearer token in a signed cookie so browsers can open
// the websocket without putting the token in the URL.
type Sessions struct {
	store sessions.Store
}

func NewSessions(store sessions.Store) *Sessions {
	return &Sessions{store: store}
}

func (s *Sessions) StoreToken(w http.ResponseWriter, r *http.Request, token string) error {
	session, _ := s.store.Get(r, sessionName)
	session.Values[tokenKey] = token
	return session.Save(r, w)
}

func (s *Sessions) GetToken(r *http.Request) (string, error) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return "", err
	}

	token, ok := session.Values[tokenKey].(string)
	if !ok || token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

func (s *Sessions) RemoveToken(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, sessionName)
	delete(session.Values, tokenKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
