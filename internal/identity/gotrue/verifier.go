package gotrue

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "profilegate/pkg/domain"
	dErrors "profilegate/pkg/domain-errors"
)

// AccessTokenClaims are the claims GoTrue puts in its access tokens.
type AccessTokenClaims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 access tokens signed with the project JWT secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier builds a verifier for secret with a small clock-skew leeway.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		leeway: 5 * time.Second,
		now:    time.Now,
	}
}

// Verify parses token and returns its claims.
// Error Contract: expired tokens yield CodeSessionExpired so callers can
// attempt a refresh; any other defect yields CodeInvalidToken.
func (v *Verifier) Verify(token string) (*AccessTokenClaims, id.UserID, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, id.UserID{}, dErrors.Wrap(err, dErrors.CodeSessionExpired, "access token expired")
		}
		return nil, id.UserID{}, dErrors.Wrap(err, dErrors.CodeInvalidToken, "invalid access token")
	}

	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return nil, id.UserID{}, dErrors.New(dErrors.CodeInvalidToken, "access token subject is not a user id")
	}
	return claims, userID, nil
}
