package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/zirunbi/tradesim/internal/db"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles user authentication. Browser clients get a session
// cookie; programmatic clients can use the JWT returned at login.
type AuthService struct {
	DB       *db.DB
	Sessions *SessionStore
	secret   []byte
}

// NewAuthService creates a new auth service
func NewAuthService(database *db.DB, sessions *SessionStore, secret string) *AuthService {
	return &AuthService{DB: database, Sessions: sessions, secret: []byte(secret)}
}

// SetPassword enables web login for an existing user.
func (s *AuthService) SetPassword(ctx context.Context, userID, password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if len(password) > 100 {
		return fmt.Errorf("password too long (max 100 characters)")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.DB.SetUserPassword(ctx, userID, string(hashed))
}

// Login verifies credentials and returns a session token plus a JWT.
// Users without a stored password hash cannot log in.
func (s *AuthService) Login(ctx context.Context, userID, password string) (string, string, error) {
	user, err := s.DB.GetUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if user.PasswordHash == nil {
		return "", "", fmt.Errorf("password not set for user %s", userID)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return "", "", fmt.Errorf("incorrect password")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.UserID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", "", err
	}

	return s.Sessions.Create(user.UserID), tokenString, nil
}

// Logout invalidates a session token.
func (s *AuthService) Logout(sessionToken string) {
	s.Sessions.Delete(sessionToken)
}

// GetUserFromToken extracts the user id from a JWT.
func (s *AuthService) GetUserFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	return userID, nil
}
