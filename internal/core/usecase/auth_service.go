package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

const defaultSessionTTL = 24 * time.Hour

// AuthListener receives every change of a user's signed-in state. user is nil
// on logout.
type AuthListener func(uid string, user *domain.User)

// Session is what Signup and Login hand back to the client.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

type AuthService struct {
	repo   ports.AccountRepository
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	revoked   map[string]time.Time // token hash -> expiry
	listeners map[uint64]AuthListener
	nextID    uint64
}

func NewAuthService(repo ports.AccountRepository, secret []byte, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &AuthService{
		repo:      repo,
		secret:    secret,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
		revoked:   make(map[string]time.Time),
		listeners: make(map[uint64]AuthListener),
	}
}

// OnAuthStateChanged registers l and returns a function that removes it.
func (s *AuthService) OnAuthStateChanged(l AuthListener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *AuthService) Signup(ctx context.Context, name, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if !domain.ValidateEmail(email) {
		return Session{}, domain.ErrInvalidEmail
	}
	if len(password) < domain.MinPasswordLength {
		return Session{}, domain.ErrWeakPassword
	}
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return Session{}, domain.ErrEmailInUse
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}
	now := s.now()
	account := domain.Account{
		User:         domain.User{UID: uuid.NewString(), Email: email, DisplayName: strings.TrimSpace(name)},
		PasswordHash: hash,
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrEmailInUse) {
			return Session{}, domain.ErrEmailInUse
		}
		return Session{}, err
	}
	return s.startSession(account.User)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if !domain.ValidateEmail(email) {
		return Session{}, domain.ErrInvalidEmail
	}
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, domain.ErrUserNotFound
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return Session{}, domain.ErrWrongPassword
	}
	if err := s.repo.TouchLastLogin(ctx, account.UID, s.now()); err != nil {
		return Session{}, err
	}
	return s.startSession(account.User)
}

// Logout revokes token and tells listeners the user signed out.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	user, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	claims, err := s.parse(token)
	if err != nil {
		return domain.ErrUnauthorized
	}
	exp := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.revoked[HashToken(token)] = exp
	s.pruneRevokedLocked()
	s.mu.Unlock()

	s.emit(user.UID, nil)
	return nil
}

// Authenticate resolves a bearer token to its user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, domain.ErrUnauthorized
	}
	s.mu.Lock()
	_, revoked := s.revoked[HashToken(token)]
	s.mu.Unlock()
	if revoked {
		return domain.User{}, domain.ErrUnauthorized
	}

	claims, err := s.parse(token)
	if err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	account, err := s.repo.FindByUID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	return account.User, nil
}

type sessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func (s *AuthService) startSession(user domain.User) (Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email: user.Email,
		Name:  user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, err
	}
	s.emit(user.UID, &user)
	return Session{Token: signed, ExpiresAt: exp, User: user}, nil
}

func (s *AuthService) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, domain.ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

func (s *AuthService) emit(uid string, user *domain.User) {
	s.mu.Lock()
	listeners := make([]AuthListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()
	for _, l := range listeners {
		l(uid, user)
	}
}

func (s *AuthService) pruneRevokedLocked() {
	now := s.now()
	for k, exp := range s.revoked {
		if exp.Before(now) {
			delete(s.revoked, k)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashToken is the key revoked tokens are remembered under.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
