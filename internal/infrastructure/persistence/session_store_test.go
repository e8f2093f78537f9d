package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/salmalm/salmalm/internal/domain/entity"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

func testStore(t *testing.T) (*SessionStore, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := autoMigrate(db); err != nil {
		t.Fatal(err)
	}
	store, err := NewSessionStore(db, filepath.Join(dir, "sessions"),
		func(string) string { return "You are SalmAlm." }, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return store, dir
}

func TestLoadLazyCreatesWithSystemPrompt(t *testing.T) {
	store, _ := testStore(t)
	sess, err := store.Load(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Role != entity.RoleSystem {
		t.Fatalf("messages = %+v", sess.Messages)
	}
	if sess.Messages[0].Content != "You are SalmAlm." {
		t.Errorf("prompt = %q", sess.Messages[0].Content)
	}
}

func TestLoadRejectsInvalidID(t *testing.T) {
	store, _ := testStore(t)
	if _, err := store.Load(context.Background(), "../etc/passwd"); !apperrors.IsInvalidInput(err) {
		t.Errorf("err = %v", err)
	}
}

func TestPersistWritesRowAndSnapshot(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	sess, _ := store.Load(ctx, "web")
	sess.Append(entity.NewUserMessage("hello"))
	sess.Append(entity.NewAssistantMessage("hi", "openai/gpt-4o"))
	if err := store.Persist(ctx, sess); err != nil {
		t.Fatal(err)
	}

	reloaded, err := store.Load(ctx, "web")
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Messages) != 3 {
		t.Fatalf("reloaded %d messages", len(reloaded.Messages))
	}
	if reloaded.Title == "" {
		t.Error("title should derive from the first user message")
	}
	if _, err := os.Stat(store.snapshotPath("web")); err != nil {
		t.Errorf("snapshot missing: %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	if _, err := store.LoadOwned(ctx, "mine", 7); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadOwned(ctx, "mine", 8); apperrors.CodeOf(err) != apperrors.CodeForbidden {
		t.Errorf("other user access: %v", err)
	}
	// Admin sees everything.
	if _, err := store.LoadOwned(ctx, "mine", 0); err != nil {
		t.Errorf("admin access: %v", err)
	}
	if err := store.Rename(ctx, "mine", 8, "stolen"); apperrors.CodeOf(err) != apperrors.CodeForbidden {
		t.Errorf("rename by other user: %v", err)
	}
}

func TestRollbackDropsPairs(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	sess, _ := store.Load(ctx, "web")
	for i := 0; i < 3; i++ {
		sess.Append(entity.NewUserMessage("q"))
		sess.Append(entity.NewAssistantMessage("a", "m"))
	}
	store.Persist(ctx, sess)

	removed, err := store.Rollback(ctx, "web", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
	reloaded, _ := store.Load(ctx, "web")
	if len(reloaded.Messages) != 3 { // system + first pair
		t.Errorf("remaining = %d", len(reloaded.Messages))
	}
}

func TestBranchCopiesPrefixAndRecordsParent(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	sess, _ := store.Load(ctx, "web")
	sess.Append(entity.NewUserMessage("one"))
	sess.Append(entity.NewAssistantMessage("1", "m"))
	sess.Append(entity.NewUserMessage("two"))
	sess.Append(entity.NewAssistantMessage("2", "m"))
	store.Persist(ctx, sess)

	branchID, err := store.Branch(ctx, "web", 0, 3) // up to and including "two"
	if err != nil {
		t.Fatal(err)
	}
	branch, err := store.Load(ctx, branchID)
	if err != nil {
		t.Fatal(err)
	}
	if branch.ParentSessionID != "web" {
		t.Errorf("parent = %q", branch.ParentSessionID)
	}
	if len(branch.Messages) != 4 {
		t.Errorf("branch has %d messages, want 4", len(branch.Messages))
	}
	if branch.Messages[3].Content != "two" {
		t.Errorf("branch tail = %q", branch.Messages[3].Content)
	}

	// Mutating the branch must not touch the origin.
	branch.Append(entity.NewUserMessage("divergent"))
	store.Persist(ctx, branch)
	origin, _ := store.Load(ctx, "web")
	if len(origin.Messages) != 5 {
		t.Errorf("origin mutated: %d messages", len(origin.Messages))
	}
}

func TestDeleteRemovesRowAndSnapshot(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	store.Load(ctx, "gone")
	if err := store.Delete(ctx, "gone", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.snapshotPath("gone")); !os.IsNotExist(err) {
		t.Error("snapshot survived delete")
	}
	infos, _ := store.List(ctx, 0)
	for _, info := range infos {
		if info.ID == "gone" {
			t.Error("row survived delete")
		}
	}
}

func TestClearKeepsOne(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		store.Load(ctx, id)
	}
	removed, err := store.Clear(ctx, "b", 0)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d", removed)
	}
	infos, _ := store.List(ctx, 0)
	if len(infos) != 1 || infos[0].ID != "b" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestEditAndDeleteMessage(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	sess, _ := store.Load(ctx, "web")
	sess.Append(entity.NewUserMessage("typo"))
	store.Persist(ctx, sess)

	if err := store.EditMessage(ctx, "web", 0, 1, "fixed"); err != nil {
		t.Fatal(err)
	}
	reloaded, _ := store.Load(ctx, "web")
	if reloaded.Messages[1].Content != "fixed" {
		t.Errorf("edit failed: %q", reloaded.Messages[1].Content)
	}

	if err := store.DeleteMessage(ctx, "web", 0, 1); err != nil {
		t.Fatal(err)
	}
	reloaded, _ = store.Load(ctx, "web")
	if len(reloaded.Messages) != 1 {
		t.Errorf("delete failed: %d messages", len(reloaded.Messages))
	}

	if err := store.EditMessage(ctx, "web", 0, 99, "x"); !apperrors.IsInvalidInput(err) {
		t.Errorf("out of range edit: %v", err)
	}
}

func TestSnapshotImport(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	// A snapshot with no row, as left by an older install.
	sess := &entity.Session{
		ID:         "legacy",
		Messages:   []entity.Message{entity.NewSystemMessage("old"), entity.NewUserMessage("hi")},
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if err := store.writeSnapshot(sess); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, "legacy")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 2 || loaded.Messages[0].Content != "old" {
		t.Errorf("imported = %+v", loaded.Messages)
	}
}
