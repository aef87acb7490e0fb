package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/creditforge/backend/internal/config"
	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// Claims are the JWT claims of a bearer credential. Subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// IdentityResolver issues bearer credentials and maps them back to accounts.
type IdentityResolver struct {
	accounts  *database.Collection[models.Account]
	secret    []byte
	expiry    time.Duration
	blacklist TokenBlacklist
	now       func() time.Time
}

func NewIdentityResolver(accounts *database.Collection[models.Account], cfg config.JWTConfig, blacklist TokenBlacklist) *IdentityResolver {
	expiry := time.Duration(cfg.ExpiryHours) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	if blacklist == nil {
		blacklist = NewMemoryBlacklist()
	}
	return &IdentityResolver{
		accounts:  accounts,
		secret:    []byte(cfg.SecretKey),
		expiry:    expiry,
		blacklist: blacklist,
		now:       time.Now,
	}
}

// Issue signs a new credential for the account.
func (r *IdentityResolver) Issue(account *models.Account) (string, time.Time, error) {
	now := r.now()
	expiresAt := now.Add(r.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: account.Role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Resolve returns the active account behind the credential. Every credential
// problem yields the same ErrUnauthorized; only storage failures differ.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (*models.Account, error) {
	claims, err := r.parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}

	revoked, err := r.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, storageFailure("check token blacklist", err)
	}
	if revoked {
		return nil, ErrUnauthorized
	}

	accounts, err := r.accounts.Load(ctx)
	if err != nil {
		return nil, storageFailure("load accounts", err)
	}
	i := indexOfAccount(accounts, claims.Subject)
	if i < 0 || !accounts[i].Active {
		return nil, ErrUnauthorized
	}
	return &accounts[i], nil
}

// Revoke blacklists the credential for the rest of its lifetime. Invalid
// credentials are ignored.
func (r *IdentityResolver) Revoke(ctx context.Context, token string) error {
	claims, err := r.parse(token)
	if err != nil {
		return nil
	}

	ttl := claims.ExpiresAt.Time.Sub(r.now())
	if err := r.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
		return storageFailure("revoke token", err)
	}
	return nil
}

func (r *IdentityResolver) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("token missing subject or id")
	}
	return claims, nil
}
