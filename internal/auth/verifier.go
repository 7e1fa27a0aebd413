package auth

import (
	"context"
	"errors"

	"commi8/internal/database"
	"commi8/internal/models"
)

type UserLookup interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Verifier resolves a bearer token to the user it was issued for.
// It has no side effects and is safe for concurrent use.
type Verifier struct {
	tokens *TokenManager
	users  UserLookup
}

func NewVerifier(tokens *TokenManager, users UserLookup) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

func (v *Verifier) Verify(ctx context.Context, token string) (models.User, error) {
	userID, err := v.tokens.Parse(token)
	if err != nil {
		return models.User{}, err
	}

	user, err := v.users.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.User{}, ErrUnknownUser
	}
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Reason names a verification failure for logs. Callers only ever deny.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrUnknownUser):
		return "unknown"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}
