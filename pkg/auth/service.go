package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

// Config configures token issuance
type Config struct {
	// Secret signs HS256 tokens
	Secret string `yaml:"secret" json:"secret"`

	// Issuer is written to and required in the iss claim
	Issuer string `yaml:"issuer" json:"issuer"`

	// TokenTTL is the token lifetime. Default: 24h.
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`

	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int `yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

// Identity is an authenticated owner
type Identity struct {
	UserID    string    `json:"user_id" yaml:"user_id"`
	Email     string    `json:"email" yaml:"email"`
	Token     string    `json:"token" yaml:"token"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// Claims are the token claims; Subject is the user id
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator exchanges credentials for an identity
type Authenticator interface {
	Login(ctx context.Context, email, password string) (Identity, error)
}

// Service is the credential service
type Service struct {
	users  UserStore
	secret []byte
	issuer string
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewService creates a credential service
// Fail-fast: panics without a user store or secret
func NewService(users UserStore, cfg Config) *Service {
	failfast.NotNil(users, "users")
	failfast.If(cfg.Secret != "", "auth secret cannot be empty")

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "todosync"
	}
	return &Service{
		users:  users,
		secret: []byte(cfg.Secret),
		issuer: issuer,
		ttl:    ttl,
		cost:   cost,
		now:    time.Now,
	}
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Register creates an account
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return User{}, err
	}
	if len(password) < MinPasswordLength {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Login checks credentials and issues a token
func (s *Service) Login(ctx context.Context, email, password string) (Identity, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return Identity{}, err
	}

	u, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return s.Issue(u)
}

// Issue signs a token for u
func (s *Service) Issue(u User) (Identity, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return Identity{UserID: u.ID, Email: u.Email, Token: token, ExpiresAt: expires.UTC()}, nil
}

// Verify parses and validates a token
func (s *Service) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Secret returns the signing key, for middleware that verifies tokens itself
func (s *Service) Secret() []byte {
	return s.secret
}

// Issuer returns the expected iss claim
func (s *Service) Issuer() string {
	return s.issuer
}
