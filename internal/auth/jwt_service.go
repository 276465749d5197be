package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
const DefaultAccessTokenTTL = 15 * time.Minute

// DefaultResetTokenTTL defines the fallback validity period for password reset tokens.
const DefaultResetTokenTTL = time.Hour

// Token kinds embedded in signed claims. A token of one kind never validates
// as another: the kind is part of the signed payload and checked on decode.
const (
	TokenKindAccess = "access"
	TokenKindReset  = "reset"
)

var (
	// ErrTokenMalformed is returned when a token is structurally invalid.
	ErrTokenMalformed = errors.New("jwt: token malformed")
	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid covers signature mismatches and wrong-kind tokens.
	ErrTokenInvalid = errors.New("jwt: token invalid")
)

// JWTConfig bundles the configuration required to build a JWTService.
// The signing secret is injected at startup and never read from a global.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	Clock          func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid,omitempty"`
	TokenKind string `json:"kind"`
	jwt.RegisteredClaims
}

// AccessTokenInput holds the parameters used when generating a new access token.
type AccessTokenInput struct {
	UserID    string
	Role      string
	SessionID string
	Audience  []string
}

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	resetTTL time.Duration
	now      func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		ttl:      ttl,
		resetTTL: resetTTL,
		now:      now,
	}, nil
}

// AccessTokenTTL exposes the configured access token lifetime.
func (s *JWTService) AccessTokenTTL() time.Duration {
	return s.ttl
}

// ResetTokenTTL reports the configured reset token lifetime.
func (s *JWTService) ResetTokenTTL() time.Duration {
	return s.resetTTL
}

// GenerateAccessToken issues a signed JWT containing the supplied claims.
func (s *JWTService) GenerateAccessToken(input AccessTokenInput) (string, error) {
	if input.UserID == "" {
		return "", errors.New("jwt: user id is required")
	}

	claims := s.baseClaims(input.UserID, TokenKindAccess, s.ttl)
	claims.Role = input.Role
	claims.SessionID = input.SessionID
	claims.Audience = input.Audience
	if input.SessionID != "" {
		claims.ID = input.SessionID
	}

	return s.sign(claims)
}

// GenerateResetToken issues a signed single-purpose password reset token.
// One-time-use enforcement lives in the reset store; the codec only binds
// the token to its kind and expiry.
func (s *JWTService) GenerateResetToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("jwt: user id is required")
	}

	return s.sign(s.baseClaims(userID, TokenKindReset, s.resetTTL))
}

// ValidateAccessToken parses and validates a signed JWT, returning the application claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenKindAccess)
}

// ValidateResetToken parses and validates a password reset token.
func (s *JWTService) ValidateResetToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenKindReset)
}

func (s *JWTService) baseClaims(userID, kind string, ttl time.Duration) *Claims {
	now := s.now()
	return &Claims{
		UserID:    userID,
		TokenKind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

func (s *JWTService) validate(tokenString, kind string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrTokenInvalid
	}

	if claims.UserID == "" {
		return nil, ErrTokenInvalid
	}

	if claims.TokenKind != kind {
		return nil, ErrTokenInvalid
	}

	return &claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
