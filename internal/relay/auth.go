package relay

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenExpDays = 30

// Auth issues and validates the JWT tokens that gate relay connections.
type Auth struct {
	secret string
}

// NewAuth creates an Auth with the given signing secret.
func NewAuth(secret string) *Auth {
	return &Auth{secret: secret}
}

// IssueToken generates a token identifying a window.
func (a *Auth) IssueToken(windowID string) (string, error) {
	claims := jwt.MapClaims{
		"window_id": windowID,
		"exp":       time.Now().AddDate(0, 0, tokenExpDays).Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a token and returns the window ID it carries.
func (a *Auth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	windowID, ok := claims["window_id"].(string)
	if !ok {
		return "", fmt.Errorf("window_id not found in token")
	}

	return windowID, nil
}
