package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("account is already registered")
	ErrUsernameTaken      = errors.New("username already exists")
)

// AccountStore is the slice of the repository the auth manager needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	RegisterAccount(ctx context.Context, id string, username string, passwordHash string) (*domain.Account, error)
}

// AuthManager issues bearer tokens for guest and registered accounts. The
// token subject is the account id, so a guest keeps its inventory and quota
// after registering.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts AccountStore
}

type stockiaClaims struct {
	jwtlib.RegisteredClaims
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, accounts AccountStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
	}
}

// Issue signs a token for account. Unregistered accounts get the guest role.
func (a *AuthManager) Issue(account domain.Account) (string, string, time.Time, error) {
	role := domain.RoleGuest
	if account.Registered {
		role = domain.RoleUser
	}
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account.ID, account.Username, role, expiresAt)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, role, expiresAt, nil
}

// Register attaches credentials to an existing guest account.
func (a *AuthManager) Register(ctx context.Context, accountID string, req domain.RegisterRequest) (domain.Account, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.Account{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.Account{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.Account{}, fmt.Errorf("password must be at least 6 characters")
	}

	current, err := a.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if current.Registered {
		return domain.Account{}, ErrAlreadyRegistered
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to hash password")
	}
	account, err := a.accounts.RegisterAccount(ctx, accountID, username, passwordHash)
	if errors.Is(err, store.ErrConflict) {
		return domain.Account{}, ErrUsernameTaken
	}
	if err != nil {
		return domain.Account{}, err
	}
	return *account, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.Account, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	account, err := a.accounts.GetAccountByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Account{}, err
	}
	if !account.Registered || !verifyPassword(account.PasswordHash, req.Password) {
		return domain.Account{}, ErrInvalidCredentials
	}
	return *account, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &stockiaClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Subject: sub, Username: claims.Username, Role: claims.Role}, nil
}

func (a *AuthManager) sign(subject, username, role string, expiresAt time.Time) (string, error) {
	claims := stockiaClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "stockia",
		},
		Role:     role,
		Username: username,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
