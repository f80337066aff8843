// README: Development token verifier accepting "uid" or "uid:role" bearer tokens.
package infra

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidDevToken = errors.New("invalid dev token")

// DevVerifier trusts the token text. It is wired only when auth.dev_tokens is set.
type DevVerifier struct{}

func (DevVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	uid, role, _ := strings.Cut(strings.TrimSpace(idToken), ":")
	if uid == "" || len(uid) > 128 {
		return nil, ErrInvalidDevToken
	}
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &FirebaseToken{UID: uid, Claims: claims}, nil
}
