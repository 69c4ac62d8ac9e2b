package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stordesk.io/internal/access"
	"stordesk.io/internal/ids"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 14 * 24 * time.Hour
)

var (
	// ErrTokenExpired indicates a well-formed credential past its validity
	// window.
	ErrTokenExpired = errors.New("session: token expired")

	// ErrTokenInvalid indicates a malformed, forged or otherwise
	// unverifiable credential.
	ErrTokenInvalid = errors.New("session: invalid token")

	// ErrRefreshNotFound reports that a refresh record does not exist or
	// is no longer live. Stores return it from MarkRevoked so a losing
	// concurrent redeem is distinguishable from a backend outage.
	ErrRefreshNotFound = errors.New("session: refresh token not found")
)

// Claims is the decoded, verified content of a session credential. The
// grant snapshot is captured at issuance; evaluation during the token's
// lifetime never re-fetches from the store, so permission changes become
// visible only after the TTL. That staleness window is the accepted
// trade-off for a validation path with no I/O.
type Claims struct {
	Username string         `json:"username"`
	Grants   []access.Grant `json:"grants,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject user id.
func (c *Claims) UserID() string { return c.Subject }

// Allows evaluates the embedded snapshot against (resource, action).
func (c *Claims) Allows(resource access.Resource, action access.Action) bool {
	return access.Allows(c.Grants, resource, action)
}

// IsManager reports whether the snapshot carries the MANAGER bypass.
func (c *Claims) IsManager() bool { return access.IsManager(c.Grants) }

// Token is a signed access credential and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Pair couples an access token with its opaque refresh companion. The
// refresh value is unlinked to the session claims and has its own lifetime.
type Pair struct {
	Access           Token
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshToken is the persisted half of an opaque refresh credential. Only
// a hash of the secret is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// RefreshStore manages refresh token lifecycle. MarkRevoked must be
// conditional on the record still being live and return ErrRefreshNotFound
// otherwise, so that of two concurrent redeems exactly one wins.
type RefreshStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}

// Service issues and validates session credentials. Validation is a pure
// decode-and-verify over the HMAC-signed claims: no store access, safe under
// unbounded concurrency.
type Service struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	refresh    RefreshStore
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for expiry tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. The signing secret is mandatory: an
// unsigned session credential would be client-editable.
func NewService(secret string, refresh RefreshStore, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session: signing secret is required")
	}
	svc := &Service{
		secret:     []byte(secret),
		issuer:     "stordesk",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		refresh:    refresh,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime. The session
// cookie max-age must match it.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Issue signs an access token embedding the user identity and the resolved
// grant snapshot.
func (s *Service) Issue(user *access.User, grants []access.Grant) (Token, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return Token{}, errors.New("session: user is required")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)
	claims := &Claims{
		Username: user.Username,
		Grants:   grants,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// IssuePair issues an access token plus a fresh refresh credential.
func (s *Service) IssuePair(ctx context.Context, user *access.User, grants []access.Grant) (Pair, error) {
	accessToken, err := s.Issue(user, grants)
	if err != nil {
		return Pair{}, err
	}
	refreshValue, rec, err := s.newRefreshToken(user.ID)
	if err != nil {
		return Pair{}, err
	}
	if s.refresh == nil {
		return Pair{}, errors.New("session: refresh store not configured")
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		return Pair{}, err
	}
	return Pair{
		Access:           accessToken,
		RefreshToken:     refreshValue,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Validate verifies the signature and validity window of a raw credential.
// Expiry is exclusive: a token is rejected from the instant its exp claim
// is reached. No clock-skew leniency is granted.
func (s *Service) Validate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Redeem validates and rotates a refresh credential, returning the user id
// it belongs to. A hash mismatch revokes the stored record outright.
func (s *Service) Redeem(ctx context.Context, raw string) (string, error) {
	if s.refresh == nil {
		return "", errors.New("session: refresh store not configured")
	}
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return "", ErrTokenInvalid
	}
	rec, err := s.refresh.Find(ctx, tokenID)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if rec.Revoked || !s.now().Before(rec.ExpiresAt) {
		return "", ErrTokenInvalid
	}
	if !compareSecretHash(rec.TokenHash, secret) {
		_ = s.refresh.MarkRevoked(ctx, rec.ID)
		return "", ErrTokenInvalid
	}
	// A redeem that raced another one past the Find sees no live row here
	// and the token reads as spent.
	if err := s.refresh.MarkRevoked(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrRefreshNotFound) {
			return "", ErrTokenInvalid
		}
		return "", err
	}
	return rec.UserID, nil
}

// RevokeUser revokes every outstanding refresh credential for the user.
// Called on logout and on password change.
func (s *Service) RevokeUser(ctx context.Context, userID string) error {
	if s.refresh == nil {
		return nil
	}
	return s.refresh.MarkRevokedByUser(ctx, userID)
}

func (s *Service) newRefreshToken(userID string) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	now := s.now().UTC()
	rec := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func compareSecretHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
