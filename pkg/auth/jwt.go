package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/model"
)

// Claims is the shape of the bearer credential issued by the account
// service. The realtime core only verifies it; it never issues or refreshes
// credentials in production.
type Claims struct {
	UserID string     `json:"user_id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

type contextKey string

// IdentityKey stores the verified model.Identity in a request context.
const IdentityKey contextKey = "identity"

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a credential and returns the identity it
// attests. Missing, expired and malformed credentials all collapse to the
// same unauthenticated error so no detail leaks to the peer.
func (v *Verifier) Verify(tokenString string) (model.Identity, error) {
	if tokenString == "" {
		return model.Identity{}, errs.ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.UserID == "" {
		return model.Identity{}, errs.ErrUnauthenticated
	}

	return model.Identity{
		ID:    claims.UserID,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

// Sign creates a credential for the given identity. Used by tests and the
// development client; production tokens come from the account service.
func Sign(secret string, id model.Identity, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: id.ID,
		Name:   id.Name,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// BearerToken extracts the credential from a request: Authorization header
// first, then the token query parameter (some websocket clients cannot set
// headers).
func BearerToken(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(tokenString, "Bearer ")
}
