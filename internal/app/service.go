package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"medkey/api/internal/auth"
	"medkey/api/internal/authpw"
	"medkey/api/internal/config"
	"medkey/api/internal/email"
	"medkey/api/internal/enhance"
	"medkey/api/internal/identity"
	"medkey/api/internal/photos"
	"medkey/api/internal/profile"
	"medkey/api/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Session is an authenticated principal's active session.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the record-oriented storage boundary. FetchProfile has no
// notion of who is asking; UpsertProfile enforces the owner-only write rule
// itself and is the last line of defense against cross-principal writes.
type DataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	FetchProfile(ctx context.Context, id string) (profile.Record, error)
	UpsertProfile(ctx context.Context, principalID string, rec profile.Record) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// SessionStore persists refresh sessions (Redis, or Postgres as fallback).
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Service composes the identity session, the profile store and the optional
// capabilities into the owner and public access paths.
type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	authpw   *authpw.Service
	identity *identity.Session
	enhancer *enhance.Service
	photos   *photos.Service
	mailer   *email.Service

	// Concurrent owner loads for the same principal are coalesced; callers
	// all see the same fetch result rather than racing stale responses.
	loads singleflight.Group
}

func New(cfg config.Config, dataStore DataStore, sessions SessionStore, authSvc *authpw.Service,
	enhancer *enhance.Service, photoStore *photos.Service, mailer *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		identity: identity.NewSession(),
		enhancer: enhancer,
		photos:   photoStore,
		mailer:   mailer,
	}
}

// Identity exposes the principal broadcaster for subscribers.
func (s *Service) Identity() *identity.Session {
	return s.identity
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) MailerConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) EnhanceEnabled() bool {
	return s.enhancer != nil && s.enhancer.Enabled()
}

func (s *Service) PhotosConfigured() bool {
	return s.photos.Configured()
}

// --- registration and sign-in ---

// SignUpResult distinguishes all three outcomes of a registration: a full
// session, a confirmation-pending account, and a created account whose
// initial profile could not be written (degraded, never fatal).
type SignUpResult struct {
	Principal           identity.Principal
	Session             *Session
	ConfirmationPending bool
	// ConfirmationToken is exposed only when no mailer is configured, as a
	// dev bypass; with SMTP present the token travels by email alone.
	ConfirmationToken string
	ProfileCreated    bool
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (SignUpResult, error) {
	resp, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return SignUpResult{}, err
	}

	principal := identity.Principal{
		ID:          resp.User.ID,
		Email:       resp.User.Email,
		DisplayName: resp.User.DisplayName,
	}

	if resp.ConfirmationPending {
		result := SignUpResult{Principal: principal, ConfirmationPending: true}
		if s.MailerConfigured() {
			confirmURL := fmt.Sprintf("%s/confirm?token=%s", s.cfg.PublicBaseURL, resp.ConfirmationToken)
			if err := s.mailer.SendConfirmationEmail(resp.User.Email, resp.User.DisplayName, confirmURL); err != nil {
				log.Printf("signup: confirmation mail to %s failed: %v", resp.User.Email, err)
			}
		} else {
			result.ConfirmationToken = resp.ConfirmationToken
		}
		// No session yet: the principal is not published until sign-in.
		return result, nil
	}

	// Fully registered. The initial profile is best-effort: the principal
	// already exists and a failure here must not fail the registration.
	profileCreated := true
	initial := profile.Initial(principal.ID, principal.DisplayName, time.Now())
	if err := s.store.UpsertProfile(ctx, principal.ID, profile.ToStorage(initial, time.Now())); err != nil {
		profileCreated = false
		log.Printf("signup: initial profile for %s failed, user can create it later: %v", principal.ID, err)
	}

	s.identity.Set(principal)

	session, err := s.issueSession(ctx, resp.User)
	if err != nil {
		return SignUpResult{}, err
	}

	return SignUpResult{
		Principal:      principal,
		Session:        &session,
		ProfileCreated: profileCreated,
	}, nil
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.authpw.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}

	// Publish the principal before anything fetches keyed on it.
	s.identity.Set(identity.Principal{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName})

	return s.issueSession(ctx, user)
}

func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	return s.authpw.ConfirmEmail(ctx, token)
}

func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.authpw.RequestPasswordReset(ctx, emailAddr)
	if err != nil || token == "" {
		return "", err
	}
	if s.MailerConfigured() {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.PublicBaseURL, token)
		if err := s.mailer.SendPasswordResetEmail(emailAddr, "", resetURL); err != nil {
			log.Printf("password reset mail to %s failed: %v", emailAddr, err)
		}
		return "", nil
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.authpw.ResetPassword(ctx, token, newPassword)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := uuid.NewString() + uuid.NewString()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

// Logout always clears the local session; remote revocations are best-effort.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.Printf("logout: access token revocation failed: %v", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("logout: refresh revocation failed: %v", err)
		}
	}
	s.identity.Clear()
}

// --- profiles ---

// LoadProfile is the owner read path. store.ErrNotFound means "no profile
// yet", a normal state for a fresh registration.
func (s *Service) LoadProfile(ctx context.Context, principalID string) (profile.MedicalProfile, error) {
	result, err, _ := s.loads.Do(principalID, func() (any, error) {
		rec, err := s.store.FetchProfile(ctx, principalID)
		if err != nil {
			return profile.MedicalProfile{}, err
		}
		return profile.FromStorage(rec), nil
	})
	if err != nil {
		return profile.MedicalProfile{}, err
	}
	return result.(profile.MedicalProfile), nil
}

// EmergencyProfile is the public read path: id in, record out, no identity
// anywhere. store.ErrNotFound here means an invalid or expired code.
func (s *Service) EmergencyProfile(ctx context.Context, id string) (profile.MedicalProfile, error) {
	rec, err := s.store.FetchProfile(ctx, id)
	if err != nil {
		return profile.MedicalProfile{}, err
	}
	return profile.FromStorage(rec), nil
}

// SaveProfile persists the owner's whole-record edit. The profile id is
// forced to the principal's id before mapping, so the stored id can never
// drift from the owner, and last_updated is stamped here rather than trusted
// from the caller. Last write wins across devices.
func (s *Service) SaveProfile(ctx context.Context, principalID string, p profile.MedicalProfile) (profile.MedicalProfile, error) {
	if err := validateProfile(p); err != nil {
		return profile.MedicalProfile{}, err
	}

	p.ID = principalID
	for i := range p.Contacts {
		if p.Contacts[i].ID == "" {
			p.Contacts[i].ID = uuid.NewString()
		}
	}

	rec := profile.ToStorage(p, time.Now())
	if err := s.store.UpsertProfile(ctx, principalID, rec); err != nil {
		return profile.MedicalProfile{}, err
	}

	s.loads.Forget(principalID)
	return profile.FromStorage(rec), nil
}

func validateProfile(p profile.MedicalProfile) error {
	if !profile.ValidBirthDate(p.BirthDate) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "birthDate must be YYYY-MM-DD or empty", nil)
	}
	if p.BloodType != "" && !profile.BloodType(p.BloodType).Valid() {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown blood type", map[string]any{"bloodType": p.BloodType})
	}
	for _, contact := range p.Contacts {
		if contact.Name == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "contact name is required", nil)
		}
	}
	return nil
}

// EnhanceNotes rewrites notes text on explicit user action only. Best-effort
// all the way down: with no capability or a failed call the input comes back.
func (s *Service) EnhanceNotes(ctx context.Context, text string) string {
	if s.enhancer == nil {
		return text
	}
	return s.enhancer.Enhance(ctx, text)
}

// --- photos ---

var ErrPhotosUnavailable = errors.New("photo storage not configured")

// UploadPhoto stores the image and, when a profile already exists, points its
// photo_url at the new object.
func (s *Service) UploadPhoto(ctx context.Context, principalID string, body io.Reader, size int64, contentType string) (string, error) {
	if !s.photos.Configured() {
		return "", ErrPhotosUnavailable
	}

	url, err := s.photos.Upload(ctx, principalID, body, size, contentType)
	if err != nil {
		return "", err
	}

	rec, err := s.store.FetchProfile(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return url, nil
	}
	if err != nil {
		return "", err
	}

	rec.PhotoURL = url
	rec.LastUpdated = time.Now().UTC()
	if err := s.store.UpsertProfile(ctx, principalID, rec); err != nil {
		return "", err
	}
	s.loads.Forget(principalID)
	return url, nil
}
