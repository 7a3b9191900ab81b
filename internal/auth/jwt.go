package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Roles understood by the API and the live endpoint.
const (
	RoleInstructor = "instructor"
	RolePresenter  = "presenter"
	RoleStudent    = "student"
	RoleService    = "service"
)

// Claims holds JWT claims. SessionID is set on live tokens and scopes them to one session room.
type Claims struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
	liveTTL     time.Duration
}

// NewJWTService creates a JWT service. liveTTL bounds tokens minted for live channels.
func NewJWTService(secret string, expireHours int, liveTTL time.Duration) *JWTService {
	if liveTTL <= 0 {
		liveTTL = 5 * time.Minute
	}
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
		liveTTL:     liveTTL,
	}
}

// Generate creates an API token for the user.
func (s *JWTService) Generate(userID, role string) (string, error) {
	return s.sign(userID, role, "", time.Duration(s.expireHours)*time.Hour)
}

// LiveToken creates a short-lived presenter token for a session room.
func (s *JWTService) LiveToken(sessionID string) (string, error) {
	return s.sign("live-controller", RolePresenter, sessionID, s.liveTTL)
}

// GenerateLive creates a short-lived token for userID to join a session room.
func (s *JWTService) GenerateLive(userID, role, sessionID string) (string, error) {
	return s.sign(userID, role, sessionID, s.liveTTL)
}

func (s *JWTService) sign(userID, role, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
