// Package account holds registered users, the logged-in session, and the
// session user's wallet. Service is the ledger's MarginProvider.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"marketdesk/internal/model"
)

var (
	ErrUserExists          = errors.New("user already exists with this email or username")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidTOTP         = errors.New("invalid or missing one-time code")
	ErrNotLoggedIn         = errors.New("user not logged in")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingField        = errors.New("username, email and password are required")
	ErrUnknownUser         = errors.New("unknown user")
)

// User is a registered account as persisted.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone"`
	PasswordHash string       `json:"password_hash"`
	TOTPSecret   string       `json:"totp_secret,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Wallet       model.Wallet `json:"wallet"`
}

// Profile is the public view of a user.
type Profile struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	Email       string       `json:"email"`
	Phone       string       `json:"phone"`
	CreatedAt   time.Time    `json:"created_at"`
	TOTPEnabled bool         `json:"totp_enabled"`
	Wallet      model.Wallet `json:"wallet"`
}

// Result is the outcome of an account operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func fail(err error) Result { return Result{Message: err.Error(), Err: err} }

// Service manages users and the single active session. Wallet margin is
// addressed by user ID, so it can move for users who are not logged in.
// Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	users   []*User
	current *User
	store   model.KVStore
	cost    int
	now     func() time.Time

	persist *persister
	closed  bool
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists users under model.KeyUsers after every change. Writes
// are asynchronous and best-effort; call Close to flush.
func WithStore(store model.KVStore) Option {
	return func(s *Service) { s.store = store }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an empty Service.
func New(opts ...Option) *Service {
	s := &Service{cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.store != nil {
		s.persist = newPersister(s.store)
	}
	return s
}

// Load replaces the user list with the one held by the store. No session is
// restored; users must log in again.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	data, err := s.store.LoadJSON(ctx, model.KeyUsers)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	if data == nil {
		return nil
	}
	var users []*User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	s.mu.Lock()
	s.users = users
	s.current = nil
	s.mu.Unlock()

	log.Printf("[account] loaded %d users", len(users))
	return nil
}

// Register creates a user with an empty wallet.
func (s *Service) Register(username, email, phone, password string) Result {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return fail(ErrMissingField)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fail(fmt.Errorf("hash password: %w", err))
	}

	s.mu.Lock()
	for _, u := range s.users {
		if u.Email == email || strings.EqualFold(u.Username, username) {
			s.mu.Unlock()
			return fail(ErrUserExists)
		}
	}
	now := s.now()
	s.users = append(s.users, &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: string(hash),
		CreatedAt:    now,
	})
	s.saveLocked()
	s.mu.Unlock()

	return Result{Success: true, Message: "Registration successful"}
}

// Login starts a session for the user whose email or username matches
// identity. code is the current TOTP value and is only checked for users
// that enabled it.
func (s *Service) Login(identity, password, code string) Result {
	identity = strings.TrimSpace(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	var user *User
	for _, u := range s.users {
		if strings.EqualFold(u.Email, identity) || strings.EqualFold(u.Username, identity) {
			user = u
			break
		}
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return fail(ErrInvalidCredentials)
	}
	if user.TOTPSecret != "" && !totp.Validate(strings.TrimSpace(code), user.TOTPSecret) {
		return fail(ErrInvalidTOTP)
	}

	s.current = user
	log.Printf("[account] %s logged in", user.Username)
	return Result{Success: true, Message: "Login successful"}
}

// Logout ends the session. No-op when nobody is logged in.
func (s *Service) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		log.Printf("[account] %s logged out", s.current.Username)
		s.current = nil
	}
}

// CurrentUser returns the logged-in user's profile.
func (s *Service) CurrentUser() (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Profile{}, false
	}
	u := s.current
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Phone:       u.Phone,
		CreatedAt:   u.CreatedAt,
		TOTPEnabled: u.TOTPSecret != "",
		Wallet:      u.Wallet,
	}, true
}

// Wallet returns the logged-in user's wallet.
func (s *Service) Wallet() (model.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Wallet{}, false
	}
	return s.current.Wallet, true
}

// AddMoney deposits amount into balance and available margin.
func (s *Service) AddMoney(amount float64) Result {
	if !(amount > 0) {
		return fail(ErrInvalidAmount)
	}
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return fail(ErrNotLoggedIn)
	}
	s.current.Wallet.Balance += amount
	s.current.Wallet.AvailableMargin += amount
	s.saveLocked()
	s.mu.Unlock()

	return Result{Success: true, Message: fmt.Sprintf("₹%.2f added successfully", amount)}
}

// WithdrawMoney removes amount from balance and available margin.
func (s *Service) WithdrawMoney(amount float64) Result {
	if !(amount > 0) {
		return fail(ErrInvalidAmount)
	}
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return fail(ErrNotLoggedIn)
	}
	if amount > s.current.Wallet.AvailableMargin {
		s.mu.Unlock()
		return fail(ErrInsufficientBalance)
	}
	s.current.Wallet.Balance -= amount
	s.current.Wallet.AvailableMargin -= amount
	s.saveLocked()
	s.mu.Unlock()

	return Result{Success: true, Message: fmt.Sprintf("₹%.2f withdrawn successfully", amount)}
}

// EnableTOTP generates a TOTP secret for the logged-in user and returns the
// otpauth:// URL to load into an authenticator app. Later logins require a
// valid code.
func (s *Service) EnableTOTP() (string, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return "", ErrNotLoggedIn
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "marketdesk",
		AccountName: s.current.Username,
	})
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("generate totp key: %w", err)
	}
	s.current.TOTPSecret = key.Secret()
	s.saveLocked()
	s.mu.Unlock()

	return key.URL(), nil
}

// ── MarginProvider ──

// IsAuthenticated reports whether a session is active.
func (s *Service) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// SessionOwner returns the logged-in user's ID.
func (s *Service) SessionOwner() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.ID, true
}

// AvailableMargin returns owner's free margin, 0 for an unknown user.
func (s *Service) AvailableMargin(owner string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(owner)
	if u == nil {
		return 0
	}
	return u.Wallet.AvailableMargin
}

// DebitMargin moves amount from owner's available to used margin.
func (s *Service) DebitMargin(owner string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(owner)
	if u == nil {
		return fmt.Errorf("%w: %q", ErrUnknownUser, owner)
	}
	w := &u.Wallet
	if amount > w.AvailableMargin {
		return fmt.Errorf("%w: need ₹%.2f, have ₹%.2f", ErrInsufficientBalance, amount, w.AvailableMargin)
	}
	w.AvailableMargin -= amount
	w.UsedMargin += amount
	s.saveLocked()
	return nil
}

// CreditMargin moves amount from owner's used back to available margin.
func (s *Service) CreditMargin(owner string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(owner)
	if u == nil {
		return fmt.Errorf("%w: %q", ErrUnknownUser, owner)
	}
	w := &u.Wallet
	w.AvailableMargin += amount
	w.UsedMargin -= amount
	if w.UsedMargin < 0 {
		w.UsedMargin = 0
	}
	s.saveLocked()
	return nil
}

func (s *Service) userLocked(id string) *User {
	if id == "" {
		return nil
	}
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}
