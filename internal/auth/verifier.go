package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/slot-reservations/internal/common"
)

// RoleAdmin grants access to booking listings.
const RoleAdmin = "admin"

// DevSecret signs tokens outside production when JWT_SECRET is unset.
const DevSecret = "dev-secret"

// Identity is the caller established from a bearer token. Tokens are issued
// by an external identity provider; this service only verifies them.
type Identity struct {
	Subject string
	Email   string
	Role    string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached by the middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Verifier checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	policy claimPolicy
	now    func() time.Time
}

// NewVerifier returns a verifier for tokens signed with secret by issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		policy: claimPolicy{
			issuer:      issuer,
			skew:        30 * time.Second,
			maxLifetime: MaxTokenLifetime,
		},
		now: time.Now,
	}
}

// WithClock overrides the verification clock.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

func unauthorized(err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
}

// Parse validates token and extracts the caller identity.
func (v *Verifier) Parse(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Identity{}, unauthorized(err)
	}
	if algorithm != jwa.HS256 {
		return Identity{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Identity{}, unauthorized(err)
	}
	if err := v.policy.check(parsed, v.now()); err != nil {
		return Identity{}, unauthorized(err)
	}
	return Identity{
		Subject: parsed.Subject(),
		Email:   strings.ToLower(strings.TrimSpace(stringClaim(parsed, "email"))),
		Role:    stringClaim(parsed, "role"),
	}, nil
}

// Issue signs a token for id valid for ttl. Used by slotctl and tests to mint
// tokens for local environments. ttl must not exceed MaxTokenLifetime.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > MaxTokenLifetime {
		return "", fmt.Errorf("auth: token ttl must be within (0, %s]", MaxTokenLifetime)
	}
	now := v.now()
	builder := jwt.NewBuilder().
		Subject(id.Subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl))
	if v.policy.issuer != "" {
		builder = builder.Issuer(v.policy.issuer)
	}
	if id.Email != "" {
		builder = builder.Claim("email", id.Email)
	}
	if id.Role != "" {
		builder = builder.Claim("role", id.Role)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func stringClaim(tok jwt.Token, name string) string {
	raw, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	switch alg {
	case "":
		return "", errors.New("auth: token missing algorithm")
	case jwa.NoSignature:
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}
