package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-webinar/watchparty/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds JWT claims: the viewer identity and the course and group memberships
// annotation visibility is checked against.
type Claims struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role"`
	CourseIDs   []string `json:"course_ids,omitempty"`
	GroupIDs    []string `json:"group_ids,omitempty"`
	jwt.RegisteredClaims
}

// Requester converts the claims into the identity handed to the session core.
func (c *Claims) Requester() models.Requester {
	return models.Requester{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		Role:        c.Role,
		CourseIDs:   c.CourseIDs,
		GroupIDs:    c.GroupIDs,
	}
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Generate creates a new JWT for the requester.
func (s *JWTService) Generate(r models.Requester) (string, error) {
	claims := Claims{
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Role:        r.Role,
		CourseIDs:   r.CourseIDs,
		GroupIDs:    r.GroupIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
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
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRequester validates a token and returns the identity it carries.
func (s *JWTService) ValidateRequester(tokenString string) (models.Requester, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return models.Requester{}, err
	}
	return claims.Requester(), nil
}
