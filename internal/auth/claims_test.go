package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func TestClaimPolicy(t *testing.T) {
	now := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	policy := claimPolicy{issuer: "slots", skew: time.Second, maxLifetime: time.Hour}

	build := func(mutate func(*jwt.Builder) *jwt.Builder) jwt.Token {
		b := jwt.NewBuilder().Issuer("slots").Subject("u1").IssuedAt(now).NotBefore(now).Expiration(now.Add(time.Minute))
		if mutate != nil {
			b = mutate(b)
		}
		tok, err := b.Build()
		require.NoError(t, err)
		return tok
	}

	cases := []struct {
		name    string
		tok     jwt.Token
		wantErr string
	}{
		{"valid", build(nil), ""},
		{"customer email", build(func(b *jwt.Builder) *jwt.Builder { return b.Claim("email", "a@example.com") }), ""},
		{"foreign issuer", build(func(b *jwt.Builder) *jwt.Builder { return b.Issuer("elsewhere") }), "iss"},
		{"expired", build(func(b *jwt.Builder) *jwt.Builder {
			return b.IssuedAt(now.Add(-time.Hour)).NotBefore(now.Add(-time.Hour)).Expiration(now.Add(-time.Minute))
		}), "exp"},
		{"not yet valid", build(func(b *jwt.Builder) *jwt.Builder { return b.NotBefore(now.Add(5 * time.Minute)) }), "nbf"},
		{"lifetime too long", build(func(b *jwt.Builder) *jwt.Builder { return b.Expiration(now.Add(48 * time.Hour)) }), "lifetime"},
		{"bad email claim", build(func(b *jwt.Builder) *jwt.Builder { return b.Claim("email", "asha") }), "email claim"},
		{"nil token", nil, "nil"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.check(tc.tok, now)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestClaimPolicyRequiresExpiryAndSubject(t *testing.T) {
	now := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	policy := claimPolicy{skew: time.Second}

	noExp, err := jwt.NewBuilder().Subject("u1").IssuedAt(now).Build()
	require.NoError(t, err)
	require.Error(t, policy.check(noExp, now))

	noSub, err := jwt.NewBuilder().IssuedAt(now).Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	require.ErrorContains(t, policy.check(noSub, now), "subject")
}

func TestIssueCapsLifetime(t *testing.T) {
	v := NewVerifier("secret", "slots")
	_, err := v.Issue(Identity{Subject: "u1"}, 48*time.Hour)
	require.Error(t, err)
	_, err = v.Issue(Identity{Subject: "u1"}, 0)
	require.Error(t, err)

	tok, err := v.Issue(Identity{Subject: "u1"}, MaxTokenLifetime)
	require.NoError(t, err)
	_, err = v.Parse(tok)
	require.NoError(t, err)
}
