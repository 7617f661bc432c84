package business

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iscanabdulhalik/swappy-realtime/internal/resilience"
	"github.com/pitabwire/util"
)

const (
	// testCredentialPrefix marks development only credentials of the form
	// test_<secret>_<userId>.
	testCredentialPrefix = "test_"
	testCredentialParts  = 3

	// maxIssuedAtSkew bounds how far in the future a token's iat claim may
	// sit before it is rejected outright.
	maxIssuedAtSkew = 5 * time.Minute
)

// VerifierConfig carries the provenance checks applied to production
// credentials and the operator supplied test credential settings.
type VerifierConfig struct {
	// Secret is the HMAC key shared with the identity provider.
	Secret string
	// Issuer and Audience are matched against iss/aud when non empty.
	Issuer   string
	Audience string

	// TestModeEnabled accepts test_<secret>_<userId> credentials. It is
	// ignored when Production is true.
	TestModeEnabled bool
	TestSecret      string
	Production      bool
}

// CredentialVerifier validates an opaque bearer credential and resolves it
// to an Identity. All failures map to a small closed sentinel set; provider
// internals never leave this package.
type CredentialVerifier struct {
	cfg        VerifierConfig
	identities IdentityLookup
	breaker    *resilience.CircuitBreaker

	// now is swappable for deterministic clock skew tests.
	now func() time.Time
}

// NewCredentialVerifier creates a verifier backed by the given identity
// lookup. Lookup calls are wrapped in a circuit breaker so a struggling
// store fails fast instead of piling up half open sockets.
func NewCredentialVerifier(cfg VerifierConfig, identities IdentityLookup) *CredentialVerifier {
	return &CredentialVerifier{
		cfg:        cfg,
		identities: identities,
		breaker:    resilience.NewCircuitBreaker(resilience.Config{Name: "identity-lookup"}),
		now:        time.Now,
	}
}

// Verify resolves a raw credential string to an Identity.
func (v *CredentialVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrTokenMissing
	}

	if strings.HasPrefix(credential, testCredentialPrefix) {
		return v.verifyTestCredential(ctx, credential)
	}

	subject, err := v.parseProductionToken(credential)
	if err != nil {
		return nil, err
	}

	return v.resolveIdentity(ctx, func(ctx context.Context) (*Identity, error) {
		return v.identities.FindByFirebaseUID(ctx, subject)
	})
}

// parseProductionToken checks signature, expiry, clock skew and, when
// configured, issuer/audience. It returns the token subject.
func (v *CredentialVerifier) parseProductionToken(credential string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(v.cfg.Secret), nil
	}, opts...)

	switch {
	case err == nil && token.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", ErrTokenRevoked
	default:
		return "", fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	// An issuance time well ahead of the server clock means a broken or
	// forged issuer; tolerate ordinary skew only.
	if claims.IssuedAt != nil && claims.IssuedAt.After(v.now().Add(maxIssuedAtSkew)) {
		return "", fmt.Errorf("%w: issued at %s is in the future", ErrTokenMalformed, claims.IssuedAt.Time)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}

	return subject, nil
}

// verifyTestCredential accepts the test_<secret>_<userId> development
// format. Malformed credentials are rejected before any lookup.
func (v *CredentialVerifier) verifyTestCredential(ctx context.Context, credential string) (*Identity, error) {
	if !v.cfg.TestModeEnabled || v.cfg.Production {
		return nil, ErrTestTokenDisabled
	}

	parts := strings.SplitN(credential, "_", testCredentialParts)
	if len(parts) != testCredentialParts || parts[1] == "" || parts[2] == "" {
		return nil, ErrTestTokenMalformed
	}

	if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(v.cfg.TestSecret)) != 1 {
		return nil, ErrTestSecretMismatch
	}

	userID := parts[2]
	return v.resolveIdentity(ctx, func(ctx context.Context) (*Identity, error) {
		return v.identities.FindByID(ctx, userID)
	})
}

// resolveIdentity runs a lookup through the circuit breaker and applies the
// existence/activity policy: absence and inactivity both fail as
// unauthorized so account existence is not leaked.
func (v *CredentialVerifier) resolveIdentity(
	ctx context.Context,
	lookup func(context.Context) (*Identity, error),
) (*Identity, error) {
	var identity *Identity
	err := v.breaker.Execute(func() error {
		var lookupErr error
		identity, lookupErr = lookup(ctx)
		return lookupErr
	})
	if err != nil {
		util.Log(ctx).WithError(err).Warn("identity lookup failed during credential verification")
		return nil, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}

	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	if !identity.IsActive {
		return nil, ErrIdentityInactive
	}

	return identity, nil
}
