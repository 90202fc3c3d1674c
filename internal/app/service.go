package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"companion/api/internal/auth"
	"companion/api/internal/authpw"
	"companion/api/internal/config"
	"companion/api/internal/export"
	"companion/api/internal/files"
	"companion/api/internal/gitrepo"
	"companion/api/internal/llm"
	"companion/api/internal/profile"
	"companion/api/internal/scratch"
	"companion/api/internal/search"
	"companion/api/internal/store"
	"companion/api/internal/util"
)

// Session is one authenticated sitting, carried as a bearer token.
type Session struct {
	Token        string
	RefreshToken string
	IdentityID   string
	Email        string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetIdentityByID(ctx context.Context, identityID string) (store.Identity, error)
	SaveRefreshSession(ctx context.Context, tokenHash, identityID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	ListKBItems(ctx context.Context, kbType string) ([]store.KBItem, error)
	GetKBItem(ctx context.Context, kbType, id string) (store.KBItem, error)
	AllKBItems(ctx context.Context) ([]store.KBItem, error)
	InsertKBItem(ctx context.Context, item store.KBItem) error
	UpdateKBItem(ctx context.Context, kbType, id string, patch store.KBItemPatch) (store.KBItem, error)
	DeleteKBItem(ctx context.Context, kbType, id string) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, with the
// Postgres store as fallback.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, identityID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type profileService interface {
	Bootstrap(ctx context.Context, uid, scratchScope string) (profile.Profile, error)
	Get(ctx context.Context, uid string) (profile.Profile, error)
	Create(ctx context.Context, uid string, in profile.NewProfileInput) (profile.Profile, error)
	Patch(ctx context.Context, uid string, patch profile.Patch) error
	AppendChatMessage(ctx context.Context, uid, question, answer string) error
	ToggleFavorite(ctx context.Context, uid, kbID string) ([]string, error)
	RecordRecentlyViewed(ctx context.Context, uid, kbID string) error
}

type gitService interface {
	EnsureItemRepo(itemID string, initial gitrepo.Content, author string) error
	CommitContent(itemID string, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, error)
	History(itemID string, limit int) ([]gitrepo.CommitInfo, error)
	GetContentByHash(itemID, hash string) (gitrepo.Content, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexItem(record search.KBRecord)
	DeleteItem(id string)
	ReindexAll(records []search.KBRecord)
}

type llmClient interface {
	Ask(ctx context.Context, req llm.AskRequest) (string, error)
}

type llmQuota interface {
	Consume(ctx context.Context, identityID string) (int, error)
	Remaining(ctx context.Context, identityID string) (int, time.Time, error)
}

type filesStore interface {
	Upload(ctx context.Context, itemID, filename, contentType string, size int64, body io.Reader) (files.Attachment, error)
	List(ctx context.Context, itemID string) ([]files.Attachment, error)
	PresignedURL(ctx context.Context, itemID, filename string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, itemID, filename string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	profiles profileService
	authpw   *authpw.Service
	email    *emailSender
	search   searchService
	git      gitService
	llm      llmClient
	quota    llmQuota
	files    filesStore
	scratch  scratch.Store
	exporter *export.Service
}

// emailSender is the slice of the email service the app layer uses.
type emailSender struct {
	configured             bool
	sendVerificationEmail  func(to, userName, verificationURL string) error
	sendPasswordResetEmail func(to, userName, resetURL string) error
}

// Options carries the collaborators wired in at startup. Optional
// fields may be nil; the matching endpoints degrade or disappear.
type Options struct {
	Store    *store.PostgresStore
	Sessions sessionStore
	Profiles *profile.Service
	AuthPW   *authpw.Service
	Email    EmailService
	Search   searchService
	Git      *gitrepo.Service
	LLM      llmClient
	Quota    llmQuota
	Files    filesStore
	Scratch  scratch.Store
}

// EmailService is satisfied by email.Service.
type EmailService interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

func New(cfg config.Config, opts Options) *Service {
	s := &Service{
		cfg:      cfg,
		store:    opts.Store,
		sessions: opts.Sessions,
		profiles: opts.Profiles,
		authpw:   opts.AuthPW,
		search:   opts.Search,
		git:      opts.Git,
		llm:      opts.LLM,
		quota:    opts.Quota,
		files:    opts.Files,
		scratch:  opts.Scratch,
	}
	if opts.Sessions == nil {
		s.sessions = opts.Store
	}
	if opts.Email != nil {
		s.email = &emailSender{
			configured:             opts.Email.IsConfigured(),
			sendVerificationEmail:  opts.Email.SendVerificationEmail,
			sendPasswordResetEmail: opts.Email.SendPasswordResetEmail,
		}
	}
	s.exporter = export.NewService(articleStore{s})
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SMTPConfigured reports whether outbound email is available. When it
// is not, the HTTP layer exposes dev bypass tokens instead.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.configured
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// ---- sign-up / sign-in / session lifecycle ----

type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	Department  string
}

type SignUpResult struct {
	IdentityID        string
	VerificationToken string
}

// SignUp creates the credential-store identity and its profile
// document in one pass. The profile is created exactly once, here;
// sign-in never creates one.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (SignUpResult, error) {
	if strings.TrimSpace(in.DisplayName) == "" {
		return SignUpResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "displayName is required", nil)
	}

	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			return SignUpResult{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return SignUpResult{}, domainError(http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
	}

	if _, err := s.profiles.Create(ctx, resp.IdentityID, profile.NewProfileInput{
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Department:  in.Department,
	}); err != nil {
		return SignUpResult{}, fmt.Errorf("create profile: %w", err)
	}

	if s.SMTPConfigured() {
		verifyURL := s.cfg.AppBaseURL + "/verify-email?token=" + resp.VerificationToken
		if err := s.email.sendVerificationEmail(in.Email, in.DisplayName, verifyURL); err != nil {
			log.Printf("app: send verification email to %s: %v", in.Email, err)
		}
	}

	return SignUpResult{
		IdentityID:        resp.IdentityID,
		VerificationToken: resp.VerificationToken,
	}, nil
}

// SignInResult carries the session plus the bootstrapped profile. When
// bootstrap fails the session is still issued: the credential check
// passed, and the profile error is reported alongside so the client
// can retry or surface it.
type SignInResult struct {
	Session      Session
	Profile      *profile.Profile
	ProfileError string
}

// SignIn authenticates, issues tokens, and runs the profile bootstrap
// protocol using the caller's device scope for the scratch scan.
func (s *Service) SignIn(ctx context.Context, email, password, deviceID string) (SignInResult, error) {
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return SignInResult{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return SignInResult{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}

	session, err := s.issueSession(ctx, resp.Identity.ID)
	if err != nil {
		return SignInResult{}, fmt.Errorf("issue session: %w", err)
	}

	result := SignInResult{Session: session}
	bootstrapped, err := s.bootstrapProfile(ctx, resp.Identity.ID, deviceID)
	if err != nil {
		result.ProfileError = profileErrorCode(err)
		return result, nil
	}
	result.Profile = &bootstrapped
	result.Session.DisplayName = bootstrapped.DisplayName
	result.Session.Role = string(bootstrapped.Role)
	return result, nil
}

// Refresh rotates the refresh token, issues a new access token, and
// re-runs the bootstrap. Re-running is free: the completion flag makes
// the migration a no-op after the first pass.
func (s *Service) Refresh(ctx context.Context, refreshToken, deviceID string) (SignInResult, error) {
	tokenHash := auth.HashToken(refreshToken)
	identityID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return SignInResult{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return SignInResult{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	session, err := s.issueSession(ctx, identityID)
	if err != nil {
		return SignInResult{}, fmt.Errorf("issue session: %w", err)
	}

	result := SignInResult{Session: session}
	bootstrapped, err := s.bootstrapProfile(ctx, identityID, deviceID)
	if err != nil {
		result.ProfileError = profileErrorCode(err)
		return result, nil
	}
	result.Profile = &bootstrapped
	result.Session.DisplayName = bootstrapped.DisplayName
	result.Session.Role = string(bootstrapped.Role)
	return result, nil
}

func (s *Service) issueSession(ctx context.Context, identityID string) (Session, error) {
	identity, err := s.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return Session{}, fmt.Errorf("load identity: %w", err)
	}

	displayName := identity.Email
	role := string(profile.RoleStaff)
	if p, err := s.profiles.Get(ctx, identityID); err == nil {
		displayName = p.DisplayName
		role = string(p.Role)
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(identityID, displayName, role, jti, s.cfg.AccessTTL))
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), identityID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		IdentityID:   identityID,
		Email:        identity.Email,
		DisplayName:  displayName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// bootstrapProfile picks the scratch scope for the migration scan. The
// device scope holds pre-login entries; with no device ID the identity
// scope is all there is.
func (s *Service) bootstrapProfile(ctx context.Context, identityID, deviceID string) (profile.Profile, error) {
	scope := deviceID
	if scope == "" {
		scope = identityID
	}
	return s.profiles.Bootstrap(ctx, identityID, scope)
}

func profileErrorCode(err error) string {
	if errors.Is(err, profile.ErrProfileMissing) {
		return "PROFILE_MISSING"
	}
	return "PROFILE_UNAVAILABLE"
}

// SessionFromToken validates a bearer token and rebuilds the session
// from its claims.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:       token,
		IdentityID:  claims.Subject,
		DisplayName: claims.Name,
		Role:        claims.Role,
		JTI:         claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// RequestPasswordReset mints a reset token and emails it when SMTP is
// configured. The token comes back for the dev bypass either way.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.authpw.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token != "" && s.SMTPConfigured() {
		resetURL := s.cfg.AppBaseURL + "/reset-password?token=" + token
		name := emailAddr
		if p, err := s.lookupProfileByEmail(ctx, emailAddr); err == nil {
			name = p.DisplayName
		}
		if err := s.email.sendPasswordResetEmail(emailAddr, name, resetURL); err != nil {
			log.Printf("app: send reset email to %s: %v", emailAddr, err)
		}
	}
	return token, nil
}

// ResendVerification mints and mails a fresh verification token.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.authpw.ResendVerification(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token != "" && s.SMTPConfigured() {
		verifyURL := s.cfg.AppBaseURL + "/verify-email?token=" + token
		name := emailAddr
		if p, err := s.lookupProfileByEmail(ctx, emailAddr); err == nil {
			name = p.DisplayName
		}
		if err := s.email.sendVerificationEmail(emailAddr, name, verifyURL); err != nil {
			log.Printf("app: send verification email to %s: %v", emailAddr, err)
		}
	}
	return token, nil
}

func (s *Service) lookupProfileByEmail(ctx context.Context, emailAddr string) (profile.Profile, error) {
	pg, ok := s.store.(*store.PostgresStore)
	if !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	identity, err := pg.GetIdentityByEmail(ctx, emailAddr)
	if err != nil {
		return profile.Profile{}, err
	}
	return s.profiles.Get(ctx, identity.ID)
}

// ---- profile operations ----

// GetProfile re-reads the caller's profile.
func (s *Service) GetProfile(ctx context.Context, session Session) (profile.Profile, error) {
	p, err := s.profiles.Get(ctx, session.IdentityID)
	if errors.Is(err, profile.ErrNotFound) {
		return profile.Profile{}, domainError(http.StatusNotFound, "PROFILE_MISSING", "Profile missing for identity", nil)
	}
	return p, err
}

// RefreshProfile re-runs the bootstrap for the caller. This is the
// retry path when sign-in reported a profile error.
func (s *Service) RefreshProfile(ctx context.Context, session Session, deviceID string) (profile.Profile, error) {
	p, err := s.bootstrapProfile(ctx, session.IdentityID, deviceID)
	if errors.Is(err, profile.ErrProfileMissing) {
		return profile.Profile{}, domainError(http.StatusNotFound, "PROFILE_MISSING", "Profile missing for identity", nil)
	}
	return p, err
}

// PatchProfile applies a field-level partial update on behalf of the
// caller.
func (s *Service) PatchProfile(ctx context.Context, session Session, patch profile.Patch) (profile.Profile, error) {
	if patch.Preferences != nil && patch.Preferences.Theme != nil {
		theme := *patch.Preferences.Theme
		if theme != "dark" && theme != "light" {
			return profile.Profile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "theme must be dark or light", nil)
		}
	}
	if err := s.profiles.Patch(ctx, session.IdentityID, patch); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return profile.Profile{}, domainError(http.StatusNotFound, "PROFILE_MISSING", "Profile missing for identity", nil)
		}
		return profile.Profile{}, err
	}
	return s.profiles.Get(ctx, session.IdentityID)
}

// ToggleFavorite flips one KB item in the caller's favorites.
func (s *Service) ToggleFavorite(ctx context.Context, session Session, kbID string) ([]string, error) {
	return s.profiles.ToggleFavorite(ctx, session.IdentityID, kbID)
}

// ---- knowledge base ----

type KBItemInput struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Body     string   `json:"body"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func (s *Service) ListKB(ctx context.Context, kbType string) ([]store.KBItem, error) {
	if !store.ValidKBType(kbType) {
		return nil, domainError(http.StatusNotFound, "UNKNOWN_KB_TYPE", "Unknown knowledge base type", nil)
	}
	return s.store.ListKBItems(ctx, kbType)
}

// GetKB fetches one item under its feature surface and records the
// view on the caller's profile.
func (s *Service) GetKB(ctx context.Context, session Session, kbType, id string) (store.KBItem, error) {
	if !store.ValidKBType(kbType) {
		return store.KBItem{}, domainError(http.StatusNotFound, "UNKNOWN_KB_TYPE", "Unknown knowledge base type", nil)
	}
	item, err := s.store.GetKBItem(ctx, kbType, id)
	if errors.Is(err, store.ErrKBItemNotFound) {
		return store.KBItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		return store.KBItem{}, err
	}
	if session.IdentityID != "" {
		if err := s.profiles.RecordRecentlyViewed(ctx, session.IdentityID, item.ID); err != nil {
			log.Printf("app: record recently viewed %s: %v", item.ID, err)
		}
	}
	return item, nil
}

func (s *Service) CreateKB(ctx context.Context, session Session, kbType string, in KBItemInput) (store.KBItem, error) {
	if !store.ValidKBType(kbType) {
		return store.KBItem{}, domainError(http.StatusNotFound, "UNKNOWN_KB_TYPE", "Unknown knowledge base type", nil)
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.KBItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	now := time.Now().UTC()
	item := store.KBItem{
		ID:        util.NewID("kb"),
		Type:      kbType,
		Title:     in.Title,
		Summary:   in.Summary,
		Body:      in.Body,
		Category:  in.Category,
		Tags:      in.Tags,
		CreatedBy: session.DisplayName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if err := s.store.InsertKBItem(ctx, item); err != nil {
		return store.KBItem{}, err
	}

	if s.git != nil {
		if err := s.git.EnsureItemRepo(item.ID, kbContent(item), session.DisplayName); err != nil {
			log.Printf("app: init revision repo for %s: %v", item.ID, err)
		}
	}
	s.indexKB(item)
	return item, nil
}

func (s *Service) UpdateKB(ctx context.Context, session Session, kbType, id string, patch store.KBItemPatch) (store.KBItem, error) {
	if !store.ValidKBType(kbType) {
		return store.KBItem{}, domainError(http.StatusNotFound, "UNKNOWN_KB_TYPE", "Unknown knowledge base type", nil)
	}
	prior, err := s.store.GetKBItem(ctx, kbType, id)
	if errors.Is(err, store.ErrKBItemNotFound) {
		return store.KBItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		return store.KBItem{}, err
	}
	item, err := s.store.UpdateKBItem(ctx, kbType, id, patch)
	if errors.Is(err, store.ErrKBItemNotFound) {
		return store.KBItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		return store.KBItem{}, err
	}

	if s.git != nil {
		if err := s.git.EnsureItemRepo(item.ID, kbContent(item), session.DisplayName); err != nil {
			log.Printf("app: ensure revision repo for %s: %v", item.ID, err)
		} else if gitrepo.HasChanges(kbContent(prior), kbContent(item)) {
			if _, err := s.git.CommitContent(item.ID, kbContent(item), session.DisplayName, "Update "+item.Title); err != nil {
				log.Printf("app: commit revision for %s: %v", item.ID, err)
			}
		}
	}
	s.indexKB(item)
	return item, nil
}

func (s *Service) DeleteKB(ctx context.Context, kbType, id string) error {
	if !store.ValidKBType(kbType) {
		return domainError(http.StatusNotFound, "UNKNOWN_KB_TYPE", "Unknown knowledge base type", nil)
	}
	err := s.store.DeleteKBItem(ctx, kbType, id)
	if errors.Is(err, store.ErrKBItemNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteItem(id)
	}
	return nil
}

func (s *Service) indexKB(item store.KBItem) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(kbRecord(item))
}

// ReindexSearch pushes every stored item to the search index. Called
// at startup so the index catches up with writes it missed.
func (s *Service) ReindexSearch(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	items, err := s.store.AllKBItems(ctx)
	if err != nil {
		return err
	}
	records := make([]search.KBRecord, 0, len(items))
	for _, item := range items {
		records = append(records, kbRecord(item))
	}
	s.search.ReindexAll(records)
	return nil
}

func kbRecord(item store.KBItem) search.KBRecord {
	return search.KBRecord{
		ID:       item.ID,
		Type:     item.Type,
		Title:    item.Title,
		Summary:  item.Summary,
		Body:     item.Body,
		Category: item.Category,
		Tags:     item.Tags,
	}
}

func kbContent(item store.KBItem) gitrepo.Content {
	return gitrepo.Content{
		Title:    item.Title,
		Summary:  item.Summary,
		Body:     item.Body,
		Category: item.Category,
		Tags:     item.Tags,
	}
}

// KBHistory lists the revision log for one item.
func (s *Service) KBHistory(ctx context.Context, kbType, id string, limit int) ([]gitrepo.CommitInfo, error) {
	if s.git == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history not configured", nil)
	}
	if _, err := s.store.GetKBItem(ctx, kbType, id); err != nil {
		if errors.Is(err, store.ErrKBItemNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return nil, err
	}
	return s.git.History(id, limit)
}

// KBRevision returns item content as of one revision.
func (s *Service) KBRevision(ctx context.Context, kbType, id, hash string) (gitrepo.Content, error) {
	if s.git == nil {
		return gitrepo.Content{}, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history not configured", nil)
	}
	if _, err := s.store.GetKBItem(ctx, kbType, id); err != nil {
		if errors.Is(err, store.ErrKBItemNotFound) {
			return gitrepo.Content{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return gitrepo.Content{}, err
	}
	return s.git.GetContentByHash(id, hash)
}

// ---- search ----

func (s *Service) SearchKB(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ---- export ----

// articleStore adapts the KB store to the export package.
type articleStore struct {
	s *Service
}

func (a articleStore) GetArticle(ctx context.Context, itemType, itemID string) (export.Article, error) {
	item, err := a.s.store.GetKBItem(ctx, itemType, itemID)
	if err != nil {
		return export.Article{}, err
	}
	return export.Article{
		ID:        item.ID,
		Type:      item.Type,
		Title:     item.Title,
		Summary:   item.Summary,
		Body:      item.Body,
		Category:  item.Category,
		Tags:      item.Tags,
		UpdatedAt: item.UpdatedAt,
	}, nil
}

func (s *Service) ExportKB(ctx context.Context, kbType, id string, format export.Format) (*export.Result, error) {
	if !store.ValidKBType(kbType) {
		return nil, domainError(http.StatusNotFound, "UNKNOWN_KB_TYPE", "Unknown knowledge base type", nil)
	}
	result, err := s.exporter.Export(ctx, export.Request{ItemType: kbType, ItemID: id, Format: format})
	if errors.Is(err, export.ErrContentUnavailable) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependencies not installed", nil)
	}
	return result, err
}

// ---- ask (LLM proxy) ----

type AskResponse struct {
	Answer    string `json:"answer"`
	Remaining int    `json:"remaining"`
}

// Ask forwards a question to the LLM with the caller's quota applied.
// Upstream failures are folded into the answer text: the chat surface
// renders them inline and the session never breaks because of them.
func (s *Service) Ask(ctx context.Context, session Session, question, kbContext string) (AskResponse, error) {
	if strings.TrimSpace(question) == "" {
		return AskResponse{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "question is required", nil)
	}
	if s.llm == nil || s.quota == nil {
		return AskResponse{}, domainError(http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "LLM proxy not configured", nil)
	}

	remaining, err := s.quota.Consume(ctx, session.IdentityID)
	if err != nil {
		var exceeded *llm.QuotaExceededError
		if errors.As(err, &exceeded) {
			return AskResponse{
				Answer:    fmt.Sprintf("Rate limit: 0 questions left today. Try again after %s.", exceeded.ResetAt.Format(time.Kitchen)),
				Remaining: 0,
			}, nil
		}
		return AskResponse{}, err
	}

	answer, err := s.llm.Ask(ctx, llm.AskRequest{Question: question, KBContext: kbContext})
	if err != nil {
		answer = inlineLLMError(err)
	}

	if err := s.profiles.AppendChatMessage(ctx, session.IdentityID, question, answer); err != nil {
		log.Printf("app: append chat message for %s: %v", session.IdentityID, err)
	}

	return AskResponse{Answer: answer, Remaining: remaining}, nil
}

type AskQuotaResponse struct {
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	ResetsAt  int64 `json:"resetsAt"`
}

// AskQuota reports the caller's unspent question budget without
// consuming from it.
func (s *Service) AskQuota(ctx context.Context, session Session) (AskQuotaResponse, error) {
	if s.quota == nil {
		return AskQuotaResponse{}, domainError(http.StatusServiceUnavailable, "LLM_UNAVAILABLE", "LLM proxy not configured", nil)
	}
	remaining, resetAt, err := s.quota.Remaining(ctx, session.IdentityID)
	if err != nil {
		return AskQuotaResponse{}, err
	}
	return AskQuotaResponse{
		Remaining: remaining,
		Limit:     llm.QuestionsPerDay,
		ResetsAt:  resetAt.Unix(),
	}, nil
}

func inlineLLMError(err error) string {
	var httpErr *llm.HTTPError
	var netErr *llm.NetworkError
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return "LLM request timed out. Please try again."
	case errors.As(err, &httpErr):
		return fmt.Sprintf("LLM API error: %s", httpErr.Message)
	case errors.As(err, &netErr):
		return fmt.Sprintf("LLM request failed: %v", netErr.Err)
	default:
		return fmt.Sprintf("LLM request failed: %v", err)
	}
}

// ---- scratch storage ----

// GetScratch reads one scratch entry from the given scope.
func (s *Service) GetScratch(ctx context.Context, scope, key string) (string, bool, error) {
	if !scratch.KnownKey(key) {
		return "", false, domainError(http.StatusNotFound, "UNKNOWN_SCRATCH_KEY", "Unknown scratch key", nil)
	}
	return s.scratch.Get(ctx, scope, key)
}

func (s *Service) SetScratch(ctx context.Context, scope, key, value string) error {
	if !scratch.KnownKey(key) {
		return domainError(http.StatusNotFound, "UNKNOWN_SCRATCH_KEY", "Unknown scratch key", nil)
	}
	return s.scratch.Set(ctx, scope, key, value)
}

func (s *Service) RemoveScratch(ctx context.Context, scope, key string) error {
	if !scratch.KnownKey(key) {
		return domainError(http.StatusNotFound, "UNKNOWN_SCRATCH_KEY", "Unknown scratch key", nil)
	}
	return s.scratch.Remove(ctx, scope, key)
}

// ---- attachments ----

func (s *Service) AttachmentsConfigured() bool {
	return s.files != nil
}

func (s *Service) ListAttachments(ctx context.Context, kbType, id string) ([]files.Attachment, error) {
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.store.GetKBItem(ctx, kbType, id); err != nil {
		if errors.Is(err, store.ErrKBItemNotFound) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return nil, err
	}
	return s.files.List(ctx, id)
}

func (s *Service) AttachmentURL(ctx context.Context, kbType, id, filename string) (string, error) {
	if s.files == nil {
		return "", domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.store.GetKBItem(ctx, kbType, id); err != nil {
		if errors.Is(err, store.ErrKBItemNotFound) {
			return "", domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return "", err
	}
	return s.files.PresignedURL(ctx, id, filename, 15*time.Minute)
}

func (s *Service) UploadAttachment(ctx context.Context, kbType, id, filename, contentType string, size int64, body io.Reader) (files.Attachment, error) {
	if s.files == nil {
		return files.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.store.GetKBItem(ctx, kbType, id); err != nil {
		if errors.Is(err, store.ErrKBItemNotFound) {
			return files.Attachment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return files.Attachment{}, err
	}
	return s.files.Upload(ctx, id, filename, contentType, size, body)
}

func (s *Service) DeleteAttachment(ctx context.Context, kbType, id, filename string) error {
	if s.files == nil {
		return domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.store.GetKBItem(ctx, kbType, id); err != nil {
		if errors.Is(err, store.ErrKBItemNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return err
	}
	return s.files.Delete(ctx, id, filename)
}
