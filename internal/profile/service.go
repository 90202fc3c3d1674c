package profile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"companion/api/internal/scratch"
	"companion/api/internal/util"
)

// Store is the document-store contract the protocol runs against.
type Store interface {
	GetProfile(ctx context.Context, uid string) (Profile, error)
	CreateProfile(ctx context.Context, p Profile) error
	// PatchProfile applies a field-level merge and stamps updatedAt.
	PatchProfile(ctx context.Context, uid string, patch Patch) error
	MarkMigrationCompleted(ctx context.Context, uid string) error
	TouchLastLogin(ctx context.Context, uid string) error
	AppendChatMessage(ctx context.Context, uid string, msg ChatMessage) error
}

// Service runs the bootstrap and migration protocol.
type Service struct {
	store   Store
	scratch scratch.Store

	// migrated remembers identities whose migration completed during
	// this process lifetime. It guards against a second patch-write
	// when a stale read still reports migrationCompleted=false.
	mu       sync.Mutex
	migrated map[string]bool
}

func NewService(store Store, scratchStore scratch.Store) *Service {
	return &Service{
		store:    store,
		scratch:  scratchStore,
		migrated: make(map[string]bool),
	}
}

// Bootstrap ensures a ready profile for the identity and transparently
// runs the one-time scratch migration. It is idempotent: every step is
// either read-only, merge-idempotent, or guarded by the completion
// flag, so a failure at any point is safe to retry on the next sign-in.
//
// The scratchScope is the device scope the client wrote its pre-login
// entries under. Steps run strictly in order: profile read, scratch
// scan, patch write, scratch clear, flag set, re-read. Cross-tab races
// for the same identity are unguarded; the per-field idempotence of
// the merge bounds the damage.
func (s *Service) Bootstrap(ctx context.Context, uid, scratchScope string) (Profile, error) {
	p, err := s.store.GetProfile(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		// Sign-up creates the profile synchronously, so this only
		// happens for identities created through some path that
		// bypassed it. The sign-in path does not recover; it reports
		// the absence outward.
		return Profile{}, ErrProfileMissing
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	if err := s.store.TouchLastLogin(ctx, uid); err != nil {
		// Non-fatal: lastLogin is advisory.
		log.Printf("profile: touch last login for %s: %v", uid, err)
	}

	if p.MigrationCompleted || s.alreadyMigrated(uid) {
		return p, nil
	}

	patch, consumed, err := ScanLocalScratch(ctx, s.scratch, scratchScope)
	if err != nil {
		return Profile{}, fmt.Errorf("scan scratch: %w", err)
	}

	// An empty scan skips the migration entirely without writing
	// anything, and deliberately does NOT set migrationCompleted: a
	// later genuine scratch write still gets merged before completion
	// is declared. The profile is simply re-checked on every sign-in
	// at no cost.
	if len(consumed) == 0 {
		return p, nil
	}

	if err := s.store.PatchProfile(ctx, uid, patch); err != nil {
		// migrationCompleted stays false and the scratch entries stay
		// intact, so the next bootstrap re-merges the same entries.
		return Profile{}, fmt.Errorf("apply migration patch: %w", err)
	}

	s.clearScratchKeys(ctx, scratchScope, consumed)

	if err := s.store.MarkMigrationCompleted(ctx, uid); err != nil {
		return Profile{}, fmt.Errorf("mark migration completed: %w", err)
	}
	s.markMigrated(uid)

	refreshed, err := s.store.GetProfile(ctx, uid)
	if err != nil {
		return Profile{}, fmt.Errorf("reload profile: %w", err)
	}
	return refreshed, nil
}

// Get re-reads the profile without touching migration state.
func (s *Service) Get(ctx context.Context, uid string) (Profile, error) {
	return s.store.GetProfile(ctx, uid)
}

// Create builds and stores a fresh profile. Called exactly once per
// identity, at sign-up.
func (s *Service) Create(ctx context.Context, uid string, in NewProfileInput) (Profile, error) {
	p := New(uid, in)
	if err := s.store.CreateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// Patch applies a merge-update on behalf of the owning identity.
func (s *Service) Patch(ctx context.Context, uid string, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	return s.store.PatchProfile(ctx, uid, patch)
}

// AppendChatMessage stamps and appends one question/answer pair to the
// profile's chat history log.
func (s *Service) AppendChatMessage(ctx context.Context, uid, question, answer string) error {
	msg := ChatMessage{
		ID:        util.NewID("chat"),
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UTC(),
	}
	return s.store.AppendChatMessage(ctx, uid, msg)
}

// ToggleFavorite flips one KB item in the profile's favorites set and
// returns the new set.
func (s *Service) ToggleFavorite(ctx context.Context, uid, kbID string) ([]string, error) {
	p, err := s.store.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	favorites := make([]string, 0, len(p.KnowledgeBase.Favorites)+1)
	found := false
	for _, id := range p.KnowledgeBase.Favorites {
		if id == kbID {
			found = true
			continue
		}
		favorites = append(favorites, id)
	}
	if !found {
		favorites = append(favorites, kbID)
	}
	err = s.store.PatchProfile(ctx, uid, Patch{
		KnowledgeBase: &KnowledgeBasePatch{Favorites: favorites},
	})
	if err != nil {
		return nil, err
	}
	return favorites, nil
}

// RecordRecentlyViewed pushes a KB item to the front of the
// recency-ordered list, keeping at most ten entries.
func (s *Service) RecordRecentlyViewed(ctx context.Context, uid, kbID string) error {
	p, err := s.store.GetProfile(ctx, uid)
	if err != nil {
		return err
	}
	recent := []string{kbID}
	for _, id := range p.KnowledgeBase.RecentlyViewed {
		if id == kbID {
			continue
		}
		recent = append(recent, id)
		if len(recent) == 10 {
			break
		}
	}
	return s.store.PatchProfile(ctx, uid, Patch{
		KnowledgeBase: &KnowledgeBasePatch{RecentlyViewed: recent},
	})
}

// clearScratchKeys removes the migrated entries. Best-effort: a key
// already absent is not an error, and a failed removal only means the
// next scan re-merges the same value into the same field.
func (s *Service) clearScratchKeys(ctx context.Context, scope string, keys []string) {
	for _, key := range keys {
		if err := s.scratch.Remove(ctx, scope, key); err != nil {
			log.Printf("profile: clear scratch key %s: %v", key, err)
		}
	}
}

func (s *Service) alreadyMigrated(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrated[uid]
}

func (s *Service) markMigrated(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrated[uid] = true
}
