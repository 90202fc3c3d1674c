package gitrepo

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestItemRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:    "Onboarding checklist",
		Summary:  "First week tasks",
		Body:     "Collect laptop, set up email.",
		Category: "HR",
		Tags:     []string{"new-staff"},
	}

	if err := svc.EnsureItemRepo("kb-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureItemRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "kb-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Second ensure is a no-op, not an error.
	if err := svc.EnsureItemRepo("kb-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureItemRepo() second call error = %v", err)
	}

	updated := initial
	updated.Body = "Collect laptop, set up email, meet your buddy."
	commit, err := svc.CommitContent("kb-1", updated, "Avery", "Expand first week tasks")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("kb-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Hash != commit.Hash {
		t.Fatalf("newest history entry = %+v, want hash %s", history[0], commit.Hash)
	}

	content, err := svc.GetContentByHash("kb-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if content.Body != updated.Body {
		t.Fatalf("unexpected content: %+v", content)
	}

	baseline, err := svc.GetContentByHash("kb-1", history[1].Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() baseline error = %v", err)
	}
	if baseline.Body != initial.Body {
		t.Fatalf("unexpected baseline content: %+v", baseline)
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureItemRepo("kb-2", Content{Title: "Item"}, "Avery"); err != nil {
		t.Fatalf("EnsureItemRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := Content{Title: "Item", Body: string(rune('a' + n))}
			if _, err := svc.CommitContent("kb-2", content, "Avery", "update"); err != nil {
				t.Errorf("CommitContent() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("kb-2", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
}

func TestHasChanges(t *testing.T) {
	base := Content{Title: "T", Summary: "S", Body: "B", Category: "C", Tags: []string{"a"}}

	if HasChanges(base, base) {
		t.Fatal("identical content reported as changed")
	}

	modified := base
	modified.Body = "B2"
	if !HasChanges(base, modified) {
		t.Fatal("body change not detected")
	}

	retagged := base
	retagged.Tags = []string{"a", "b"}
	if !HasChanges(base, retagged) {
		t.Fatal("tag change not detected")
	}
}
