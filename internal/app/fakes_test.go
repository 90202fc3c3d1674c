package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"companion/api/internal/authpw"
	"companion/api/internal/config"
	"companion/api/internal/gitrepo"
	"companion/api/internal/llm"
	"companion/api/internal/profile"
	"companion/api/internal/scratch"
	"companion/api/internal/search"
	"companion/api/internal/store"
)

// fakeStore backs both the app data store and the credential store.
type fakeStore struct {
	mu         sync.Mutex
	identities map[string]store.Identity
	byEmail    map[string]string
	refresh    map[string]string
	revoked    map[string]bool
	kb         map[string]store.KBItem
	resets     map[string]string
	pingFn     func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: make(map[string]store.Identity),
		byEmail:    make(map[string]string),
		refresh:    make(map[string]string),
		revoked:    make(map[string]bool),
		kb:         make(map[string]store.KBItem),
		resets:     make(map[string]string),
	}
}

func (f *fakeStore) GetIdentityByEmail(_ context.Context, email string) (store.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return store.Identity{}, errors.New("identity not found")
	}
	return f.identities[id], nil
}

func (f *fakeStore) GetIdentityByID(_ context.Context, identityID string) (store.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.identities[identityID]
	if !ok {
		return store.Identity{}, errors.New("identity not found")
	}
	return identity, nil
}

func (f *fakeStore) CreateIdentity(_ context.Context, identity store.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[identity.ID] = identity
	f.byEmail[strings.ToLower(identity.Email)] = identity.ID
	return nil
}

func (f *fakeStore) UpdateVerificationToken(_ context.Context, identityID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity := f.identities[identityID]
	identity.VerificationToken = token
	identity.VerificationExpiresAt = &expiresAt
	f.identities[identityID] = identity
	return nil
}

func (f *fakeStore) VerifyEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, identity := range f.identities {
		if identity.VerificationToken == token {
			identity.IsEmailVerified = true
			identity.VerificationToken = ""
			f.identities[id] = identity
			return nil
		}
	}
	return errors.New("invalid token")
}

func (f *fakeStore) UpdatePassword(_ context.Context, identityID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity := f.identities[identityID]
	identity.PasswordHash = passwordHash
	f.identities[identityID] = identity
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, identityID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = identityID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identityID, ok := f.resets[token]
	if !ok {
		return "", errors.New("reset not found")
	}
	return identityID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, identityID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = identityID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identityID, ok := f.refresh[tokenHash]
	if !ok {
		return "", errors.New("refresh session not found")
	}
	return identityID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListKBItems(_ context.Context, kbType string) ([]store.KBItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.KBItem
	for _, item := range f.kb {
		if item.Type == kbType {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (f *fakeStore) GetKBItem(_ context.Context, kbType, id string) (store.KBItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.kb[id]
	if !ok || item.Type != kbType {
		return store.KBItem{}, store.ErrKBItemNotFound
	}
	return item, nil
}

func (f *fakeStore) AllKBItems(_ context.Context) ([]store.KBItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []store.KBItem{}
	for _, item := range f.kb {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (f *fakeStore) InsertKBItem(_ context.Context, item store.KBItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kb[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateKBItem(_ context.Context, kbType, id string, patch store.KBItemPatch) (store.KBItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.kb[id]
	if !ok || item.Type != kbType {
		return store.KBItem{}, store.ErrKBItemNotFound
	}
	if patch.Title != nil {
		item.Title = *patch.Title
	}
	if patch.Summary != nil {
		item.Summary = *patch.Summary
	}
	if patch.Body != nil {
		item.Body = *patch.Body
	}
	if patch.Category != nil {
		item.Category = *patch.Category
	}
	if patch.Tags != nil {
		item.Tags = patch.Tags
	}
	item.UpdatedAt = time.Now().UTC()
	f.kb[id] = item
	return item, nil
}

func (f *fakeStore) DeleteKBItem(_ context.Context, kbType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.kb[id]
	if !ok || item.Type != kbType {
		return store.ErrKBItemNotFound
	}
	delete(f.kb, id)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeProfiles implements the profile slice the app layer depends on.
type fakeProfiles struct {
	mu             sync.Mutex
	profiles       map[string]profile.Profile
	bootstrapScope string
	bootstrapCalls int
	bootstrapErr   error
	recent         []string
	chat           [][2]string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]profile.Profile)}
}

func (f *fakeProfiles) Bootstrap(_ context.Context, uid, scratchScope string) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstrapScope = scratchScope
	f.bootstrapCalls++
	if f.bootstrapErr != nil {
		return profile.Profile{}, f.bootstrapErr
	}
	p, ok := f.profiles[uid]
	if !ok {
		return profile.Profile{}, profile.ErrProfileMissing
	}
	return p, nil
}

func (f *fakeProfiles) Get(_ context.Context, uid string) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[uid]
	if !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Create(_ context.Context, uid string, in profile.NewProfileInput) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := profile.New(uid, in)
	f.profiles[uid] = p
	return p, nil
}

func (f *fakeProfiles) Patch(_ context.Context, uid string, patch profile.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[uid]
	if !ok {
		return profile.ErrNotFound
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Preferences != nil && patch.Preferences.Theme != nil {
		p.Preferences.Theme = *patch.Preferences.Theme
	}
	f.profiles[uid] = p
	return nil
}

func (f *fakeProfiles) AppendChatMessage(_ context.Context, uid, question, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat = append(f.chat, [2]string{question, answer})
	return nil
}

func (f *fakeProfiles) ToggleFavorite(_ context.Context, uid, kbID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[uid]
	if !ok {
		return nil, profile.ErrNotFound
	}
	p.KnowledgeBase.Favorites = append(p.KnowledgeBase.Favorites, kbID)
	f.profiles[uid] = p
	return p.KnowledgeBase.Favorites, nil
}

func (f *fakeProfiles) RecordRecentlyViewed(_ context.Context, _, kbID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, kbID)
	return nil
}

type fakeGit struct {
	mu      sync.Mutex
	repos   map[string]gitrepo.Content
	commits []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{repos: make(map[string]gitrepo.Content)}
}

func (f *fakeGit) EnsureItemRepo(itemID string, initial gitrepo.Content, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[itemID]; !ok {
		f.repos[itemID] = initial
	}
	return nil
}

func (f *fakeGit) CommitContent(itemID string, content gitrepo.Content, _, message string) (gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[itemID] = content
	f.commits = append(f.commits, message)
	return gitrepo.CommitInfo{Hash: "deadbeef", Message: message}, nil
}

func (f *fakeGit) History(string, int) ([]gitrepo.CommitInfo, error) {
	return nil, nil
}

func (f *fakeGit) GetContentByHash(string, string) (gitrepo.Content, error) {
	return gitrepo.Content{}, nil
}

func (f *fakeGit) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

type fakeSearch struct {
	mu        sync.Mutex
	indexed   []search.KBRecord
	deleted   []string
	reindexed []search.KBRecord
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexItem(record search.KBRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeSearch) DeleteItem(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) ReindexAll(records []search.KBRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed = append(f.reindexed, records...)
}

type fakeLLM struct {
	answer string
	err    error
}

func (f *fakeLLM) Ask(context.Context, llm.AskRequest) (string, error) {
	return f.answer, f.err
}

type fakeQuota struct {
	remaining int
	resetAt   time.Time
	err       error
}

func (f *fakeQuota) Consume(context.Context, string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.remaining, nil
}

func (f *fakeQuota) Remaining(context.Context, string) (int, time.Time, error) {
	return f.remaining, f.resetAt, nil
}

func newTestService(fs *fakeStore, fp *fakeProfiles) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 720 * time.Hour,
			CORSOrigin: "*",
		},
		store:    fs,
		sessions: fs,
		profiles: fp,
		authpw:   authpw.NewService(fs),
		scratch:  scratch.NewMemoryStore(),
	}
}

func seedIdentity(t *testing.T, fs *fakeStore, fp *fakeProfiles, email, password string, verified bool) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	id := store.NewIdentityID()
	if err := fs.CreateIdentity(context.Background(), store.Identity{
		ID:              id,
		Email:           email,
		PasswordHash:    string(hash),
		IsEmailVerified: verified,
	}); err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	if fp != nil {
		if _, err := fp.Create(context.Background(), id, profile.NewProfileInput{
			Email:       email,
			DisplayName: "Test Staff",
		}); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	return id
}
