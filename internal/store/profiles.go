package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"companion/api/internal/profile"
)

// GetProfile loads the single profile owned by uid.
func (s *PostgresStore) GetProfile(ctx context.Context, uid string) (profile.Profile, error) {
	var (
		p                 profile.Profile
		lastLogin         sql.NullTime
		prefsJSON         []byte
		kbJSON            []byte
		chatJSON          []byte
		prioritiesJSON    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, role, department, created_at, updated_at, last_login,
			preferences, knowledge_base, chat_history, priorities, migration_completed
		FROM profiles
		WHERE uid=$1
	`, uid).Scan(&p.UID, &p.Email, &p.DisplayName, &p.Role, &p.Department,
		&p.CreatedAt, &p.UpdatedAt, &lastLogin,
		&prefsJSON, &kbJSON, &chatJSON, &prioritiesJSON, &p.MigrationCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if lastLogin.Valid {
		p.LastLogin = lastLogin.Time
	}
	if err := json.Unmarshal(prefsJSON, &p.Preferences); err != nil {
		return profile.Profile{}, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal(kbJSON, &p.KnowledgeBase); err != nil {
		return profile.Profile{}, fmt.Errorf("decode knowledge base: %w", err)
	}
	if err := json.Unmarshal(chatJSON, &p.ChatHistory); err != nil {
		return profile.Profile{}, fmt.Errorf("decode chat history: %w", err)
	}
	if err := json.Unmarshal(prioritiesJSON, &p.Priorities); err != nil {
		return profile.Profile{}, fmt.Errorf("decode priorities: %w", err)
	}
	if p.Preferences.PinnedLinks == nil {
		p.Preferences.PinnedLinks = []string{}
	}
	if p.KnowledgeBase.Favorites == nil {
		p.KnowledgeBase.Favorites = []string{}
	}
	if p.KnowledgeBase.PinnedArticles == nil {
		p.KnowledgeBase.PinnedArticles = []string{}
	}
	if p.KnowledgeBase.RecentlyViewed == nil {
		p.KnowledgeBase.RecentlyViewed = []string{}
	}
	if p.ChatHistory == nil {
		p.ChatHistory = []profile.ChatMessage{}
	}
	if p.Priorities == nil {
		p.Priorities = []profile.Priority{}
	}
	return p, nil
}

// CreateProfile inserts a full profile document. The uid is the primary
// key, so a second insert for the same identity fails rather than
// silently producing a duplicate.
func (s *PostgresStore) CreateProfile(ctx context.Context, p profile.Profile) error {
	prefsJSON, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	kbJSON, err := json.Marshal(p.KnowledgeBase)
	if err != nil {
		return fmt.Errorf("encode knowledge base: %w", err)
	}
	chatJSON, err := json.Marshal(p.ChatHistory)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	prioritiesJSON, err := json.Marshal(p.Priorities)
	if err != nil {
		return fmt.Errorf("encode priorities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (uid, email, display_name, role, department,
			created_at, updated_at, last_login,
			preferences, knowledge_base, chat_history, priorities, migration_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.UID, p.Email, p.DisplayName, p.Role, p.Department,
		p.CreatedAt, p.UpdatedAt, p.LastLogin,
		prefsJSON, kbJSON, chatJSON, prioritiesJSON, p.MigrationCompleted)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// PatchProfile applies a field-level partial update. Sub-record patches
// merge into the stored JSONB instead of overwriting the whole
// document, so fields absent from the patch survive. Every successful
// patch stamps updated_at.
func (s *PostgresStore) PatchProfile(ctx context.Context, uid string, patch profile.Patch) error {
	if patch.Empty() {
		return nil
	}
	sets := []string{"updated_at=NOW()"}
	args := []any{uid}
	next := 2
	arg := func(v any) string {
		args = append(args, v)
		ph := fmt.Sprintf("$%d", next)
		next++
		return ph
	}
	if patch.DisplayName != nil {
		sets = append(sets, "display_name="+arg(*patch.DisplayName))
	}
	if patch.Department != nil {
		sets = append(sets, "department="+arg(*patch.Department))
	}
	if patch.Preferences != nil {
		merged, err := json.Marshal(preferencesPatchFields(patch.Preferences))
		if err != nil {
			return fmt.Errorf("encode preferences patch: %w", err)
		}
		sets = append(sets, "preferences = preferences || "+arg(merged)+"::jsonb")
	}
	if patch.KnowledgeBase != nil {
		merged, err := json.Marshal(knowledgeBasePatchFields(patch.KnowledgeBase))
		if err != nil {
			return fmt.Errorf("encode knowledge base patch: %w", err)
		}
		sets = append(sets, "knowledge_base = knowledge_base || "+arg(merged)+"::jsonb")
	}
	if patch.Priorities != nil {
		encoded, err := json.Marshal(patch.Priorities)
		if err != nil {
			return fmt.Errorf("encode priorities: %w", err)
		}
		sets = append(sets, "priorities = "+arg(encoded)+"::jsonb")
	}
	query := "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE uid=$1"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("patch profile result: %w", err)
	}
	if affected == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// preferencesPatchFields builds only the keys present in the patch.
// An explicit empty slice must survive the merge, so this cannot rely
// on omitempty.
func preferencesPatchFields(p *profile.PreferencesPatch) map[string]any {
	fields := map[string]any{}
	if p.Theme != nil {
		fields["theme"] = *p.Theme
	}
	if p.PinnedLinks != nil {
		fields["pinnedLinks"] = p.PinnedLinks
	}
	if p.Focus != nil {
		fields["focus"] = *p.Focus
	}
	if p.Scripture != nil {
		fields["scripture"] = *p.Scripture
	}
	return fields
}

func knowledgeBasePatchFields(p *profile.KnowledgeBasePatch) map[string]any {
	fields := map[string]any{}
	if p.Favorites != nil {
		fields["favorites"] = p.Favorites
	}
	if p.PinnedArticles != nil {
		fields["pinnedArticles"] = p.PinnedArticles
	}
	if p.RecentlyViewed != nil {
		fields["recentlyViewed"] = p.RecentlyViewed
	}
	return fields
}

// MarkMigrationCompleted flips the one-time flag. It deliberately does
// not touch updated_at: setting the flag is bookkeeping, not a content
// change.
func (s *PostgresStore) MarkMigrationCompleted(ctx context.Context, uid string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET migration_completed=TRUE WHERE uid=$1
	`, uid)
	if err != nil {
		return fmt.Errorf("mark migration completed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark migration result: %w", err)
	}
	if affected == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// TouchLastLogin stamps last_login only.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET last_login=NOW() WHERE uid=$1
	`, uid)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// AppendChatMessage pushes one Q&A exchange onto the chat history
// array in place.
func (s *PostgresStore) AppendChatMessage(ctx context.Context, uid string, msg profile.ChatMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET chat_history = chat_history || $2::jsonb, updated_at=NOW()
		WHERE uid=$1
	`, uid, encoded)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append chat result: %w", err)
	}
	if affected == 0 {
		return profile.ErrNotFound
	}
	return nil
}
