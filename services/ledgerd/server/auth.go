package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pynthchain/crypto"
)

type contextKey string

const contextKeyCaller contextKey = "ledger_caller"

var (
	errMissingToken = errors.New("missing bearer token")
	errNoSubject    = errors.New("token subject missing")
)

// Verifier checks HS256 bearer tokens whose subject is the caller's ledger
// address.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier builds a verifier for secret. An empty issuer accepts any.
func NewVerifier(secret, issuer string, leeway time.Duration) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret required")
	}
	return &Verifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), leeway: leeway}, nil
}

// Verify validates token and returns the caller address from its subject.
func (v *Verifier) Verify(token string) (crypto.Address, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !parsed.Valid {
		return crypto.Address{}, errors.New("token validation failed")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return crypto.Address{}, errNoSubject
	}
	return crypto.DecodeAddress(subject)
}

// Issue signs a token for caller. Operators use it to mint credentials.
func (v *Verifier) Issue(caller crypto.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	if v.now != nil {
		now = v.now()
	}
	claims := jwt.RegisteredClaims{
		Subject:   caller.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Authenticate resolves the caller from the Authorization header.
func (v *Verifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, errMissingToken)
			return
		}
		caller, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyCaller, caller)))
	})
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(crypto.Address)
	return caller, ok && !caller.IsZero()
}
