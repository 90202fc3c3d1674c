package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"companion/api/internal/scratch"
)

type mockStore struct {
	mu       sync.Mutex
	profiles map[string]Profile

	patchCalls int
	markCalls  int
	failPatch  bool
	failMark   bool
	// staleFlag makes every read report migrationCompleted=false even
	// after it was set, simulating a stale replica read.
	staleFlag bool
}

func newMockStore() *mockStore {
	return &mockStore{profiles: make(map[string]Profile)}
}

func (m *mockStore) GetProfile(_ context.Context, uid string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return Profile{}, ErrNotFound
	}
	if m.staleFlag {
		p.MigrationCompleted = false
	}
	return p, nil
}

func (m *mockStore) CreateProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UID] = p
	return nil
}

func (m *mockStore) PatchProfile(_ context.Context, uid string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPatch {
		return errors.New("patch failed")
	}
	p, ok := m.profiles[uid]
	if !ok {
		return ErrNotFound
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Department != nil {
		p.Department = *patch.Department
	}
	if patch.Preferences != nil {
		if patch.Preferences.Theme != nil {
			p.Preferences.Theme = *patch.Preferences.Theme
		}
		if patch.Preferences.PinnedLinks != nil {
			p.Preferences.PinnedLinks = patch.Preferences.PinnedLinks
		}
		if patch.Preferences.Focus != nil {
			p.Preferences.Focus = *patch.Preferences.Focus
		}
		if patch.Preferences.Scripture != nil {
			p.Preferences.Scripture = *patch.Preferences.Scripture
		}
	}
	if patch.KnowledgeBase != nil {
		if patch.KnowledgeBase.Favorites != nil {
			p.KnowledgeBase.Favorites = patch.KnowledgeBase.Favorites
		}
		if patch.KnowledgeBase.PinnedArticles != nil {
			p.KnowledgeBase.PinnedArticles = patch.KnowledgeBase.PinnedArticles
		}
		if patch.KnowledgeBase.RecentlyViewed != nil {
			p.KnowledgeBase.RecentlyViewed = patch.KnowledgeBase.RecentlyViewed
		}
	}
	if patch.Priorities != nil {
		p.Priorities = patch.Priorities
	}
	p.UpdatedAt = time.Now().UTC()
	m.profiles[uid] = p
	m.patchCalls++
	return nil
}

func (m *mockStore) MarkMigrationCompleted(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark {
		return errors.New("mark failed")
	}
	p, ok := m.profiles[uid]
	if !ok {
		return ErrNotFound
	}
	p.MigrationCompleted = true
	m.profiles[uid] = p
	m.markCalls++
	return nil
}

func (m *mockStore) TouchLastLogin(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return ErrNotFound
	}
	p.LastLogin = time.Now().UTC()
	m.profiles[uid] = p
	return nil
}

func (m *mockStore) AppendChatMessage(_ context.Context, uid string, msg ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return ErrNotFound
	}
	p.ChatHistory = append(p.ChatHistory, msg)
	m.profiles[uid] = p
	return nil
}

func seedProfile(t *testing.T, store *mockStore, uid string) {
	t.Helper()
	p := New(uid, NewProfileInput{Email: uid + "@dubbo.example", DisplayName: "Test Staff"})
	if err := store.CreateProfile(context.Background(), p); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func TestCreateDefaults(t *testing.T) {
	p := New("id_1", NewProfileInput{Email: "a@dubbo.example", DisplayName: "A"})
	if p.Role != RoleStaff {
		t.Fatalf("default role = %q, want staff", p.Role)
	}
	if p.Department != "General" {
		t.Fatalf("default department = %q, want General", p.Department)
	}
	if p.Preferences.Theme != "light" {
		t.Fatalf("default theme = %q, want light", p.Preferences.Theme)
	}
	if p.MigrationCompleted {
		t.Fatal("new profile must start with migrationCompleted=false")
	}
	if p.KnowledgeBase.Favorites == nil || p.ChatHistory == nil || p.Priorities == nil {
		t.Fatal("collections must default to empty, not nil")
	}
}

func TestBootstrapMissingProfile(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, scratch.NewMemoryStore())

	_, err := svc.Bootstrap(context.Background(), "id_ghost", "device-1")
	if !errors.Is(err, ErrProfileMissing) {
		t.Fatalf("err = %v, want ErrProfileMissing", err)
	}
	if store.patchCalls != 0 || store.markCalls != 0 {
		t.Fatal("missing profile must not trigger any writes")
	}
}

func TestBootstrapEmptyScanLeavesFlagUnset(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, scratch.NewMemoryStore())
	seedProfile(t, store, "id_1")

	p, err := svc.Bootstrap(context.Background(), "id_1", "device-1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if p.MigrationCompleted {
		t.Fatal("empty scan must not set migrationCompleted")
	}
	if store.patchCalls != 0 || store.markCalls != 0 {
		t.Fatalf("empty scan wrote: %d patches, %d marks", store.patchCalls, store.markCalls)
	}
	if p.LastLogin.IsZero() {
		t.Fatal("bootstrap must stamp lastLogin")
	}
}

func TestBootstrapMigratesScratch(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	local := scratch.NewMemoryStore()
	svc := NewService(store, local)
	seedProfile(t, store, "id_1")

	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "dark")
	_ = local.Set(ctx, "device-1", scratch.KeyKBFavorites, `["kb_a","kb_b"]`)
	_ = local.Set(ctx, "device-1", scratch.KeyFocus, "Week 7 reports")
	_ = local.Set(ctx, "device-1", scratch.KeyPriorities, `[{"id":"p1","task":"Mark rolls","completed":false,"date":"2026-08-31"}]`)

	p, err := svc.Bootstrap(ctx, "id_1", "device-1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !p.MigrationCompleted {
		t.Fatal("migration must be marked completed")
	}
	if p.Preferences.Theme != "dark" {
		t.Fatalf("theme = %q, want dark", p.Preferences.Theme)
	}
	if len(p.KnowledgeBase.Favorites) != 2 || p.KnowledgeBase.Favorites[0] != "kb_a" {
		t.Fatalf("favorites = %v", p.KnowledgeBase.Favorites)
	}
	if p.Preferences.Focus != "Week 7 reports" {
		t.Fatalf("focus = %q", p.Preferences.Focus)
	}
	if len(p.Priorities) != 1 || p.Priorities[0].Task != "Mark rolls" {
		t.Fatalf("priorities = %v", p.Priorities)
	}

	// Consumed entries are cleared from the scratch scope.
	for _, key := range []string{scratch.KeyTheme, scratch.KeyKBFavorites, scratch.KeyFocus, scratch.KeyPriorities} {
		if _, ok, _ := local.Get(ctx, "device-1", key); ok {
			t.Fatalf("scratch key %s survived migration", key)
		}
	}
}

func TestBootstrapIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	local := scratch.NewMemoryStore()
	svc := NewService(store, local)
	seedProfile(t, store, "id_1")

	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "dark")

	if _, err := svc.Bootstrap(ctx, "id_1", "device-1"); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	// A later device write must not be re-merged once the flag is set.
	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "light")

	p, err := svc.Bootstrap(ctx, "id_1", "device-1")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if p.Preferences.Theme != "dark" {
		t.Fatalf("theme = %q, second bootstrap must not re-merge", p.Preferences.Theme)
	}
	if store.patchCalls != 1 {
		t.Fatalf("patchCalls = %d, want exactly 1", store.patchCalls)
	}
}

func TestBootstrapStaleFlagGuard(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	local := scratch.NewMemoryStore()
	svc := NewService(store, local)
	seedProfile(t, store, "id_1")

	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "dark")
	if _, err := svc.Bootstrap(ctx, "id_1", "device-1"); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}

	// Reads now lie about the flag; the in-process guard still holds.
	store.staleFlag = true
	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "light")

	if _, err := svc.Bootstrap(ctx, "id_1", "device-1"); err != nil {
		t.Fatalf("stale bootstrap: %v", err)
	}
	if store.patchCalls != 1 {
		t.Fatalf("patchCalls = %d, stale read must not trigger a second migration", store.patchCalls)
	}
}

func TestBootstrapPatchFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	local := scratch.NewMemoryStore()
	svc := NewService(store, local)
	seedProfile(t, store, "id_1")

	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "dark")
	_ = local.Set(ctx, "device-1", scratch.KeyKBFavorites, `["kb_a"]`)

	store.failPatch = true
	if _, err := svc.Bootstrap(ctx, "id_1", "device-1"); err == nil {
		t.Fatal("expected patch failure to surface")
	}
	if store.markCalls != 0 {
		t.Fatal("failed patch must not mark migration completed")
	}
	// Scratch entries stay intact for the retry.
	if _, ok, _ := local.Get(ctx, "device-1", scratch.KeyTheme); !ok {
		t.Fatal("scratch entry lost after failed patch")
	}

	store.failPatch = false
	p, err := svc.Bootstrap(ctx, "id_1", "device-1")
	if err != nil {
		t.Fatalf("retry bootstrap: %v", err)
	}
	if !p.MigrationCompleted || p.Preferences.Theme != "dark" {
		t.Fatalf("retry did not complete migration: %+v", p)
	}
}

func TestBootstrapInvalidThemeLeftBehind(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	local := scratch.NewMemoryStore()
	svc := NewService(store, local)
	seedProfile(t, store, "id_1")

	_ = local.Set(ctx, "device-1", scratch.KeyTheme, "neon")

	p, err := svc.Bootstrap(ctx, "id_1", "device-1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if p.Preferences.Theme != "light" {
		t.Fatalf("theme = %q, invalid value must not migrate", p.Preferences.Theme)
	}
	if p.MigrationCompleted {
		t.Fatal("nothing consumed, flag must stay unset")
	}
	if _, ok, _ := local.Get(ctx, "device-1", scratch.KeyTheme); !ok {
		t.Fatal("invalid entry must stay in scratch")
	}
}

func TestToggleFavorite(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	svc := NewService(store, scratch.NewMemoryStore())
	seedProfile(t, store, "id_1")

	favorites, err := svc.ToggleFavorite(ctx, "id_1", "kb_a")
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if len(favorites) != 1 || favorites[0] != "kb_a" {
		t.Fatalf("favorites = %v", favorites)
	}

	favorites, err = svc.ToggleFavorite(ctx, "id_1", "kb_a")
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if len(favorites) != 0 {
		t.Fatalf("favorites = %v, want empty after second toggle", favorites)
	}
}

func TestRecordRecentlyViewedCapsAtTen(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	svc := NewService(store, scratch.NewMemoryStore())
	seedProfile(t, store, "id_1")

	for i := 0; i < 12; i++ {
		id := string(rune('a' + i))
		if err := svc.RecordRecentlyViewed(ctx, "id_1", "kb_"+id); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	p, _ := svc.Get(ctx, "id_1")
	if len(p.KnowledgeBase.RecentlyViewed) != 10 {
		t.Fatalf("recentlyViewed len = %d, want 10", len(p.KnowledgeBase.RecentlyViewed))
	}
	if p.KnowledgeBase.RecentlyViewed[0] != "kb_l" {
		t.Fatalf("most recent = %q, want kb_l", p.KnowledgeBase.RecentlyViewed[0])
	}

	// Re-viewing an existing item moves it to the front without a dup.
	if err := svc.RecordRecentlyViewed(ctx, "id_1", "kb_j"); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	p, _ = svc.Get(ctx, "id_1")
	if p.KnowledgeBase.RecentlyViewed[0] != "kb_j" {
		t.Fatalf("most recent = %q, want kb_j", p.KnowledgeBase.RecentlyViewed[0])
	}
	seen := map[string]int{}
	for _, id := range p.KnowledgeBase.RecentlyViewed {
		seen[id]++
		if seen[id] > 1 {
			t.Fatalf("duplicate entry %q in recentlyViewed", id)
		}
	}
}
