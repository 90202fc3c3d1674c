// Package profile implements the profile bootstrap and one-time
// local-scratch migration protocol that runs on every sign-in.
package profile

import (
	"errors"
	"time"
)

// Role is the closed set of staff roles.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
	RoleSupport Role = "support"
)

// ValidRole reports whether r is a member of the role enum.
func ValidRole(r Role) bool {
	switch r {
	case RoleStaff, RoleAdmin, RoleSupport:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no profile exists for an identity.
	ErrNotFound = errors.New("profile not found")
	// ErrProfileMissing is the bootstrap-level absence signal. The sign-in
	// path never auto-creates a profile; it only reports the absence
	// outward so the client can surface it.
	ErrProfileMissing = errors.New("profile missing for identity")
)

type Preferences struct {
	Theme       string   `json:"theme"`
	PinnedLinks []string `json:"pinnedLinks"`
	Focus       string   `json:"focus,omitempty"`
	Scripture   string   `json:"scripture,omitempty"`
}

type KnowledgeBase struct {
	Favorites      []string `json:"favorites"`
	PinnedArticles []string `json:"pinnedArticles"`
	RecentlyViewed []string `json:"recentlyViewed"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

type Priority struct {
	ID        string `json:"id"`
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
	Date      string `json:"date"`
}

// Profile is the single server-side record owned by one identity.
type Profile struct {
	UID                string        `json:"uid"`
	Email              string        `json:"email"`
	DisplayName        string        `json:"displayName"`
	Role               Role          `json:"role"`
	Department         string        `json:"department,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	LastLogin          time.Time     `json:"lastLogin"`
	Preferences        Preferences   `json:"preferences"`
	KnowledgeBase      KnowledgeBase `json:"knowledgeBase"`
	ChatHistory        []ChatMessage `json:"chatHistory"`
	Priorities         []Priority    `json:"priorities"`
	MigrationCompleted bool          `json:"migrationCompleted"`
}

// PreferencesPatch carries only the preference fields present in a
// partial update. Nil fields are left untouched by the merge.
type PreferencesPatch struct {
	Theme       *string  `json:"theme,omitempty"`
	PinnedLinks []string `json:"pinnedLinks,omitempty"`
	Focus       *string  `json:"focus,omitempty"`
	Scripture   *string  `json:"scripture,omitempty"`
}

// KnowledgeBasePatch carries only the knowledge-base fields present
// in a partial update.
type KnowledgeBasePatch struct {
	Favorites      []string `json:"favorites,omitempty"`
	PinnedArticles []string `json:"pinnedArticles,omitempty"`
	RecentlyViewed []string `json:"recentlyViewed,omitempty"`
}

// Patch is a field-level partial update. Merge semantics: fields not
// present are never clobbered; sub-record patches merge at the field
// level, not whole-document overwrite.
type Patch struct {
	DisplayName   *string             `json:"displayName,omitempty"`
	Department    *string             `json:"department,omitempty"`
	Preferences   *PreferencesPatch   `json:"preferences,omitempty"`
	KnowledgeBase *KnowledgeBasePatch `json:"knowledgeBase,omitempty"`
	Priorities    []Priority          `json:"priorities,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (p Patch) Empty() bool {
	return p.DisplayName == nil &&
		p.Department == nil &&
		p.Preferences == nil &&
		p.KnowledgeBase == nil &&
		p.Priorities == nil
}

// NewProfileInput is the base data captured at sign-up.
type NewProfileInput struct {
	Email       string
	DisplayName string
	Role        Role
	Department  string
}

// New builds a fresh profile with default empty collections and
// migrationCompleted false.
func New(uid string, in NewProfileInput) Profile {
	now := time.Now().UTC()
	role := in.Role
	if role == "" {
		role = RoleStaff
	}
	department := in.Department
	if department == "" {
		department = "General"
	}
	return Profile{
		UID:         uid,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        role,
		Department:  department,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLogin:   now,
		Preferences: Preferences{
			Theme:       "light",
			PinnedLinks: []string{},
		},
		KnowledgeBase: KnowledgeBase{
			Favorites:      []string{},
			PinnedArticles: []string{},
			RecentlyViewed: []string{},
		},
		ChatHistory:        []ChatMessage{},
		Priorities:         []Priority{},
		MigrationCompleted: false,
	}
}
