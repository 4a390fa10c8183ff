package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := v.Issue(domain.Principal{ID: "D1", Role: domain.RoleVehicle, Name: "Ravi"}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Principal{ID: "D1", Role: domain.RoleVehicle, Name: "Ravi"}, *p)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier("s3cret")
	other := NewVerifier("other")

	expired, err := v.Issue(domain.Principal{ID: "D1", Role: domain.RoleVehicle}, -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue(domain.Principal{ID: "D1", Role: domain.RoleVehicle}, time.Hour)
	require.NoError(t, err)
	noRole, err := v.Issue(domain.Principal{ID: "U1"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := v.Issue(domain.Principal{Role: domain.RolePassenger}, time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "D1", "role": "vehicle"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"expired":    expired,
		"foreign":    foreign,
		"no role":    noRole,
		"no subject": noSubject,
		"alg none":   none,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
		})
	}
}

func TestVerify_NoSecretConfigured(t *testing.T) {
	signer := NewVerifier("s3cret")
	token, err := signer.Issue(domain.Principal{ID: "U1", Role: domain.RolePassenger}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("").Verify(token)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}
