// Package auth handles accounts, session tokens and the request guards
// built on them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const (
	CookieName = "session"

	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

var (
	ErrInvalidInput       = errors.New("invalid signup")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("not allowed")
)

// Referrer credits referral codes presented at signup.
type Referrer interface {
	AttributeSignup(ctx context.Context, newUserID, code string) (*entities.ReferralReward, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == entities.RoleAdmin }

type Service struct {
	db       interfaces.Database
	tokens   *Tokens
	referrer Referrer
	admins   map[string]bool
	cost     int
	logger   *zap.SugaredLogger
}

func NewService(db interfaces.Database, tokens *Tokens, referrer Referrer, adminEmails []string, logger *zap.SugaredLogger) *Service {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = true
		}
	}
	return &Service{
		db:       db,
		tokens:   tokens,
		referrer: referrer,
		admins:   admins,
		cost:     bcrypt.DefaultCost,
		logger:   logger,
	}
}

func (s *Service) users() interfaces.Repository {
	return s.db.Repository(entities.UserSchema)
}

type SignupInput struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	Name         string `json:"name" validate:"omitempty,max=120"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	ReferralCode string `json:"referralCode" validate:"omitempty,max=16"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is a signed-in user with the token that proves it.
type Session struct {
	User      *entities.User `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

// Signup creates an account and signs it in. A referral code that cannot be
// credited is logged and does not block the signup.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if n := len(in.Password); n < minPasswordLen || n > maxPasswordLen {
		return nil, fmt.Errorf("%w: password must be %d to %d characters", ErrInvalidInput, minPasswordLen, maxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &entities.User{Email: email, PasswordHash: string(hash), Role: entities.RoleUser}
	if name := strings.TrimSpace(in.Name); name != "" {
		user.Name = &name
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		user.Phone = &phone
	}
	row, err := s.users().Create(ctx, user.Record())
	if errors.Is(err, interfaces.ErrUniqueConstraint) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	created, err := entities.Decode[entities.User](row)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("User signed up", "id", created.ID)

	if code := strings.TrimSpace(in.ReferralCode); code != "" && s.referrer != nil {
		if _, err := s.referrer.AttributeSignup(ctx, created.ID, code); err != nil {
			s.logger.Warnw("Referral not credited", "user_id", created.ID, "code", code, "error", err)
		} else if refreshed, err := s.userByID(ctx, created.ID); err == nil {
			created = refreshed
		}
	}
	return s.session(created)
}

// Login checks the password and issues a fresh session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	row, err := s.users().FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(interfaces.Eq("email", email)),
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	user, err := entities.Decode[entities.User](row)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		s.logger.Infow("Failed login", "email", email)
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *Service) session(u *entities.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID, u.Email, s.roleOf(u.Email, u.Role))
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

// roleOf promotes configured admin emails regardless of the stored role.
func (s *Service) roleOf(email, stored string) string {
	if s.admins[strings.ToLower(email)] {
		return entities.RoleAdmin
	}
	if stored == "" {
		return entities.RoleUser
	}
	return stored
}

func (s *Service) userByID(ctx context.Context, id string) (*entities.User, error) {
	row, err := s.users().GetByID(ctx, interfaces.StringID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return entities.Decode[entities.User](row)
}

// Me returns the stored account of the principal.
func (s *Service) Me(ctx context.Context, p *Principal) (*entities.User, error) {
	if p == nil {
		return nil, ErrUnauthorized
	}
	return s.userByID(ctx, p.UserID)
}

// Authenticate resolves the caller from the session cookie or a Bearer
// token. It returns ErrUnauthorized when neither carries a valid token.
func (s *Service) Authenticate(r *http.Request) (*Principal, error) {
	raw := tokenFrom(r)
	if raw == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   s.roleOf(claims.Email, claims.Role),
	}, nil
}

func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// SetCookie writes the session cookie for sess.
func SetCookie(w http.ResponseWriter, sess *Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
