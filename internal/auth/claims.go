package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// MaxTokenLifetime caps exp - iat. Booking callers hold short-lived tokens.
const MaxTokenLifetime = 24 * time.Hour

// claimPolicy is what a caller's token must carry once its signature checks out.
type claimPolicy struct {
	issuer      string
	skew        time.Duration
	maxLifetime time.Duration
}

func (p claimPolicy) check(tok jwt.Token, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(p.skew),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return err
	}
	if strings.TrimSpace(tok.Subject()) == "" {
		return errors.New("auth: token has no subject")
	}
	if iat := tok.IssuedAt(); p.maxLifetime > 0 && !iat.IsZero() {
		if life := tok.Expiration().Sub(iat); life > p.maxLifetime {
			return fmt.Errorf("auth: token lifetime %s exceeds %s", life, p.maxLifetime)
		}
	}
	// The email claim becomes the booking's customer email when the request omits one.
	if email := strings.TrimSpace(stringClaim(tok, "email")); email != "" && !strings.Contains(email, "@") {
		return fmt.Errorf("auth: email claim %q is not an address", email)
	}
	return nil
}
