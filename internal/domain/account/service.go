package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
	"github.com/patholab/lis/internal/platform/db"
)

var errInvalidCredentials = apperr.Unauthorized("invalid email or password")

type Service struct {
	repo     Repository
	issuer   *auth.TokenIssuer
	logger   zerolog.Logger
	timeout  time.Duration
	hashCost int
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithLogger(l zerolog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithHashCost sets the bcrypt work factor for new password hashes.
func WithHashCost(cost int) Option { return func(s *Service) { s.hashCost = cost } }

func NewService(repo Repository, issuer *auth.TokenIssuer, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		issuer:   issuer,
		logger:   zerolog.Nop(),
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) get(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.NotFound("user %s not found", id)
	}
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.repo.GetByID(sctx, uid)
	if err != nil {
		return nil, apperr.FromStore(err, "user "+id)
	}
	return u, nil
}

// LoadIdentity resolves a token subject. Inactive users are rejected so that
// deactivation takes effect on the next request.
func (s *Service) LoadIdentity(ctx context.Context, userID string) (*auth.Identity, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.Unauthorized("user %s is inactive", userID)
	}
	return u.Identity(), nil
}

// Login checks email and password against active users and issues a token.
// Unknown email, wrong password and inactive account all return the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperr.BadParameter("email and password are required")
	}

	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	u, err := s.repo.GetByEmail(sctx, email)
	cancel()
	if err != nil {
		serr := apperr.FromStore(err, "user")
		if apperr.IsKind(serr, apperr.KindNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, serr
	}
	if !u.IsActive {
		s.logger.Warn().Str("user_id", u.ID.String()).Msg("login attempt for inactive user")
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("stored password hash is unusable")
		}
		return nil, errInvalidCredentials
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*LoginResult, error) {
	tok, err := s.issuer.Issue(u.ID.String())
	if err != nil {
		return nil, apperr.Internal(err, "issue token")
	}
	return &LoginResult{Token: tok, User: u}, nil
}

// Refresh re-issues a token for the authenticated caller while still active.
func (s *Service) Refresh(ctx context.Context) (*LoginResult, error) {
	u, err := s.Me(ctx)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.Unauthorized("user is inactive")
	}
	return s.issue(u)
}

func (s *Service) Me(ctx context.Context) (*User, error) {
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		return nil, apperr.Unauthorized("not authenticated")
	}
	u, err := s.get(ctx, id.UserID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, apperr.Unauthorized("user no longer exists")
	}
	return u, err
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, apperr.BadParameter("password cannot be hashed: %v", err)
	}

	now := s.clock()
	u := &User{
		ID:              uuid.New(),
		Email:           in.Email,
		Name:            in.Name,
		Role:            in.Role,
		IsActive:        true,
		PasswordHash:    string(hash),
		PathologistCode: in.PathologistCode,
		ResidentCode:    in.ResidentCode,
		AuxiliaryCode:   in.AuxiliaryCode,
		BillingCode:     in.BillingCode,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Create(sctx, u); err != nil {
		serr := apperr.FromStore(err, "user")
		if apperr.IsKind(serr, apperr.KindDuplicateCode) {
			return nil, apperr.New(apperr.KindDuplicateCode, "email %s is already registered", in.Email)
		}
		return nil, serr
	}
	s.logger.Info().
		Str("user_id", u.ID.String()).
		Str("role", string(u.Role)).
		Str("created_by", auth.UserIDFromContext(ctx)).
		Msg("user created")
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error) {
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperr.BadParameter("invalid role %q", f.Role)
	}
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	users, total, err := s.repo.List(sctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "users")
	}
	return users, total, nil
}

// SetActive enables or disables an account. Callers cannot deactivate themselves.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*User, error) {
	if !active && id == auth.UserIDFromContext(ctx) {
		return nil, apperr.BadParameter("cannot deactivate your own account")
	}
	u, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.SetActive(sctx, u.ID, active, now); err != nil {
		return nil, apperr.FromStore(err, "user "+id)
	}
	u.IsActive = active
	u.UpdatedAt = now
	s.logger.Info().
		Str("user_id", id).
		Bool("active", active).
		Str("changed_by", auth.UserIDFromContext(ctx)).
		Msg("user activation changed")
	return u, nil
}
