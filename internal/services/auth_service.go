package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"github.com/creditforge/backend/internal/config"
	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"displayName" validate:"required,min=2,max=80"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Account   models.Profile `json:"account"`
}

// AccountService registers accounts and issues their credentials.
type AccountService struct {
	accounts    *database.Collection[models.Account]
	ledger      *CreditLedger
	identity    *IdentityResolver
	audit       *AuditService
	argon       config.Argon2Config
	signupGrant int64
	adminEmails []string
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewAccountService(
	accounts *database.Collection[models.Account],
	ledger *CreditLedger,
	identity *IdentityResolver,
	audit *AuditService,
	cfg *config.Config,
	logger logrus.FieldLogger,
) *AccountService {
	argon := cfg.Argon2
	if argon.Time == 0 {
		argon.Time = 1
	}
	if argon.Memory == 0 {
		argon.Memory = 64 * 1024
	}
	if argon.Threads == 0 {
		argon.Threads = 1
	}
	if argon.KeyLength == 0 {
		argon.KeyLength = 32
	}
	if argon.SaltLength <= 0 {
		argon.SaltLength = 16
	}

	return &AccountService{
		accounts:    accounts,
		ledger:      ledger,
		identity:    identity,
		audit:       audit,
		argon:       argon,
		signupGrant: cfg.Credits.SignupGrant,
		adminEmails: cfg.Admin.Emails,
		logger:      logger.WithField("component", "accounts"),
		now:         time.Now,
	}
}

// Register creates the account, credits the signup grant and signs the
// caller in.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, invalidField("email", "is required")
	}
	if len(req.Password) < 8 {
		return nil, invalidField("password", "must be at least 8 characters")
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := models.Account{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Role:         models.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if slices.Contains(s.adminEmails, email) {
		account.Role = models.RoleAdmin
	}

	err = s.accounts.Update(ctx, func(accounts []models.Account) ([]models.Account, error) {
		for _, a := range accounts {
			if a.Email == email {
				return nil, fmt.Errorf("%w: email %s", ErrAlreadyExists, email)
			}
		}
		return append(accounts, account), nil
	})
	if err != nil {
		return nil, translateStoreErr("create account", err)
	}

	if s.signupGrant > 0 {
		balance, err := s.ledger.TopUp(ctx, account.ID, s.signupGrant, "signup_grant")
		if err != nil {
			s.removeAccount(ctx, account.ID)
			return nil, err
		}
		account.Balance = balance
		account.LifetimeCredits = s.signupGrant
	}

	s.logger.WithFields(logrus.Fields{"account_id": account.ID, "role": account.Role}).Info("Account registered")
	s.recordAudit(ctx, &account, "registered an account")

	return s.issue(&account)
}

// Login verifies the password. Unknown emails, wrong passwords and inactive
// accounts all fail with ErrUnauthorized.
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)

	var account models.Account
	err := s.accounts.Update(ctx, func(accounts []models.Account) ([]models.Account, error) {
		for i := range accounts {
			if accounts[i].Email != email {
				continue
			}
			if !accounts[i].Active || !s.verifyPassword(req.Password, accounts[i].PasswordHash) {
				return nil, ErrUnauthorized
			}
			now := s.now().UTC()
			accounts[i].LastLogin = &now
			account = accounts[i]
			return accounts, nil
		}
		return nil, ErrUnauthorized
	})
	if err != nil {
		return nil, translateStoreErr("record login", err)
	}

	return s.issue(&account)
}

func (s *AccountService) Logout(ctx context.Context, token string) error {
	return s.identity.Revoke(ctx, token)
}

func (s *AccountService) Profile(ctx context.Context, accountID string) (*models.Profile, error) {
	accounts, err := s.accounts.Load(ctx)
	if err != nil {
		return nil, storageFailure("load accounts", err)
	}
	i := indexOfAccount(accounts, accountID)
	if i < 0 {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	profile := accounts[i].Profile()
	return &profile, nil
}

// Deactivate disables an account. Its outstanding credentials stop resolving
// immediately. Accounts are never deleted.
func (s *AccountService) Deactivate(ctx context.Context, actor *models.Account, accountID string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if actor.ID == accountID {
		return invalidField("accountId", "admins cannot deactivate themselves")
	}

	var target models.Account
	err := s.accounts.Update(ctx, func(accounts []models.Account) ([]models.Account, error) {
		i := indexOfAccount(accounts, accountID)
		if i < 0 {
			return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
		}
		accounts[i].Active = false
		accounts[i].Version++
		accounts[i].UpdatedAt = s.now().UTC()
		target = accounts[i]
		return accounts, nil
	})
	if err != nil {
		return translateStoreErr("deactivate account", err)
	}

	s.logger.WithFields(logrus.Fields{"account_id": accountID, "actor_id": actor.ID}).Info("Account deactivated")
	s.recordAudit(ctx, actor, fmt.Sprintf("deactivated account %s", target.Email))
	return nil
}

func (s *AccountService) issue(account *models.Account) (*AuthResponse, error) {
	token, expiresAt, err := s.identity.Issue(account)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, ExpiresAt: expiresAt, Account: account.Profile()}, nil
}

func (s *AccountService) removeAccount(ctx context.Context, accountID string) {
	err := s.accounts.Update(context.WithoutCancel(ctx), func(accounts []models.Account) ([]models.Account, error) {
		return slices.DeleteFunc(accounts, func(a models.Account) bool { return a.ID == accountID }), nil
	})
	if err != nil {
		s.logger.WithField("account_id", accountID).WithError(err).Error("Failed to roll back account after signup grant failure")
	}
}

func (s *AccountService) recordAudit(ctx context.Context, actor *models.Account, action string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, actor.ID, actor.DisplayName, action); err != nil {
		s.logger.WithError(err).Warn("Audit append failed")
	}
}

func (s *AccountService) hashPassword(password string) (string, error) {
	salt := make([]byte, s.argon.SaltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, s.argon.Time, s.argon.Memory, s.argon.Threads, s.argon.KeyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func (s *AccountService) verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, s.argon.Time, s.argon.Memory, s.argon.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
