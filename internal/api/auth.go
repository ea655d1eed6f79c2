package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthConfig holds the settings for the single-operator login.
// The monitor has one operator account: a bcrypt hash of its password and
// the HMAC secret used to sign session tokens.
type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	JWTSecret    string        `yaml:"jwt_secret"`
	PasswordHash string        `yaml:"password_hash"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:  false,
		TokenTTL: 12 * time.Hour,
	}
}

func (c *AuthConfig) ApplyDefaults() {
	if c.TokenTTL == 0 {
		c.TokenTTL = 12 * time.Hour
	}
}

// Claims represents the JWT claims issued on login.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenResponse is returned on successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // Seconds
}

// Authenticator verifies the operator password and issues/validates
// session tokens. When disabled it lets every request through.
type Authenticator struct {
	cfg AuthConfig
}

func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	cfg.ApplyDefaults()
	if cfg.Enabled {
		if cfg.JWTSecret == "" {
			return nil, errors.New("auth enabled but jwt_secret is empty")
		}
		if cfg.PasswordHash == "" {
			return nil, errors.New("auth enabled but password_hash is empty")
		}
	}
	return &Authenticator{cfg: cfg}, nil
}

// Enabled reports whether requests must carry a valid token.
func (a *Authenticator) Enabled() bool {
	return a.cfg.Enabled
}

// Login checks the password against the stored bcrypt hash and returns a
// signed session token.
func (a *Authenticator) Login(password string) (*TokenResponse, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: signed,
		ExpiresIn:   int(a.cfg.TokenTTL.Seconds()),
	}, nil
}

// ValidateToken parses and verifies a session token.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Middleware rejects requests without a valid Bearer token. WebSocket
// clients cannot set headers from the browser, so a "token" query
// parameter is accepted as a fallback.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := ""
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}

		if _, err := a.ValidateToken(tokenString); err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
