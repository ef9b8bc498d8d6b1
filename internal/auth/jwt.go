package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	// RealmAdmin is a back-office operator.
	RealmAdmin Realm = "admin"
	// RealmService is an automated caller (schedulers, audit jobs).
	RealmService Realm = "service"
)

// Claims holds the custom JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Realm Realm  `json:"realm"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"` // viewer, operator, superadmin
}

// JWTManager handles token generation and validation.
type JWTManager struct {
	secret        []byte
	adminExpiry   time.Duration
	serviceExpiry time.Duration
	now           func() time.Time
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, adminExpiry, serviceExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		adminExpiry:   adminExpiry,
		serviceExpiry: serviceExpiry,
		now:           time.Now,
	}
}

// WithClock overrides the time source used for issuing and validating.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	m.now = now
	return m
}

// GenerateToken creates a signed JWT for the given realm and subject.
func (m *JWTManager) GenerateToken(realm Realm, subject, email, role string) (string, error) {
	var expiry time.Duration
	switch realm {
	case RealmAdmin:
		expiry = m.adminExpiry
	case RealmService:
		expiry = m.serviceExpiry
	default:
		return "", fmt.Errorf("unknown realm: %s", realm)
	}
	if !ValidRole(role) {
		return "", fmt.Errorf("unknown role: %q", role)
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm: realm,
		Email: email,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateTokenForRealm validates a token and ensures it belongs to one of
// the expected realms.
func (m *JWTManager) ValidateTokenForRealm(tokenString string, expected ...Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	for _, realm := range expected {
		if claims.Realm == realm {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("expected realm %v, got %s", expected, claims.Realm)
}
