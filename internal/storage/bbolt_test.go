package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tetatet/internal/auth"
	"tetatet/internal/models"
)

func TestStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	t.Run("Credentials", func(t *testing.T) {
		creds := auth.UserCredentials{
			User: models.User{
				ID:          "user1",
				UserName:    "alice",
				DisplayName: "Alice",
				Status:      models.UserStatusActive,
			},
			PasswordHash: "hash",
		}

		if err := store.UpsertCredentials(creds); err != nil {
			t.Fatalf("UpsertCredentials failed: %v", err)
		}

		found, err := store.FindCredentialsByName("alice")
		if err != nil {
			t.Fatalf("FindCredentialsByName failed: %v", err)
		}
		if found.ID != "user1" || found.PasswordHash != "hash" {
			t.Errorf("unexpected credentials: %+v", found)
		}
		if found.Status != models.UserStatusActive {
			t.Errorf("expected Status %s, got %s", models.UserStatusActive, found.Status)
		}

		if _, err := store.FindCredentialsByName("nobody"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindUser", func(t *testing.T) {
		user, err := store.FindUser("user1")
		if err != nil {
			t.Fatalf("FindUser failed: %v", err)
		}
		if user.UserName != "alice" || user.DisplayName != "Alice" {
			t.Errorf("unexpected user: %+v", user)
		}

		byName, err := store.FindUserByName("alice")
		if err != nil {
			t.Fatalf("FindUserByName failed: %v", err)
		}
		if byName.ID != "user1" {
			t.Errorf("expected ID user1, got %s", byName.ID)
		}

		if _, err := store.FindUser("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListUsers", func(t *testing.T) {
		bob := auth.UserCredentials{
			User: models.User{
				ID:          "user2",
				UserName:    "bob",
				DisplayName: "Bob",
				Status:      models.UserStatusActive,
			},
			PasswordHash: "hash",
		}
		if err := store.UpsertCredentials(bob); err != nil {
			t.Fatalf("UpsertCredentials failed: %v", err)
		}

		users, err := store.ListUsers()
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("expected 2 users, got %d", len(users))
		}
		// Sorted by display name.
		if users[0].DisplayName != "Alice" || users[1].DisplayName != "Bob" {
			t.Errorf("unexpected order: %s, %s", users[0].DisplayName, users[1].DisplayName)
		}
	})

	t.Run("TouchLastSeen", func(t *testing.T) {
		at := time.Now()
		if err := store.TouchLastSeen("user1", at); err != nil {
			t.Fatalf("TouchLastSeen failed: %v", err)
		}
		user, err := store.FindUser("user1")
		if err != nil {
			t.Fatal(err)
		}
		if user.LastSeen != at.Unix() {
			t.Errorf("LastSeen = %d, want %d", user.LastSeen, at.Unix())
		}

		if err := store.TouchLastSeen("missing", at); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		m1, err := store.CreateMessage("user1", "user2", "hello", "<p>hello</p>")
		if err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
		if m1.ID == "" {
			t.Error("message ID not assigned")
		}
		if m1.Seq != 1 {
			t.Errorf("first Seq = %d, want 1", m1.Seq)
		}
		if m1.CreatedAt == 0 {
			t.Error("CreatedAt not set")
		}

		// The reply lands in the same conversation and continues the sequence.
		m2, err := store.CreateMessage("user2", "user1", "hi back", "")
		if err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
		if m2.Seq != 2 {
			t.Errorf("reply Seq = %d, want 2", m2.Seq)
		}

		// A different pair gets its own sequence.
		other, err := store.CreateMessage("user1", "user3", "elsewhere", "")
		if err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
		if other.Seq != 1 {
			t.Errorf("other conversation Seq = %d, want 1", other.Seq)
		}

		// Both argument orders read the same conversation.
		msgs, err := store.ListConversation("user2", "user1", 0)
		if err != nil {
			t.Fatalf("ListConversation failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "hello" || msgs[1].Content != "hi back" {
			t.Errorf("unexpected order: %q, %q", msgs[0].Content, msgs[1].Content)
		}
		if msgs[0].ContentHTML != "<p>hello</p>" {
			t.Errorf("ContentHTML = %q", msgs[0].ContentHTML)
		}

		// Limit keeps the most recent messages.
		limited, err := store.ListConversation("user1", "user2", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 1 || limited[0].Content != "hi back" {
			t.Errorf("limited = %+v", limited)
		}

		// Unknown pair: empty, not an error.
		empty, err := store.ListConversation("user1", "stranger", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(empty) != 0 {
			t.Errorf("expected no messages, got %d", len(empty))
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			UserID:   "user1",
			Endpoint: "https://push.example.com/ep1",
			P256dh:   "p256",
			Auth:     "auth",
		}
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}
		if err := store.UpsertPushSubscription(models.PushSubscription{
			UserID:   "user1",
			Endpoint: "https://push.example.com/ep2",
		}); err != nil {
			t.Fatal(err)
		}
		if err := store.UpsertPushSubscription(models.PushSubscription{
			UserID:   "user2",
			Endpoint: "https://push.example.com/other",
		}); err != nil {
			t.Fatal(err)
		}

		subs, err := store.ListPushSubscriptions("user1")
		if err != nil {
			t.Fatalf("ListPushSubscriptions failed: %v", err)
		}
		if len(subs) != 2 {
			t.Fatalf("expected 2 subscriptions, got %d", len(subs))
		}
		if subs[0].P256dh != "p256" || subs[0].Auth != "auth" {
			t.Errorf("unexpected subscription: %+v", subs[0])
		}

		if err := store.DeletePushSubscription("user1", "https://push.example.com/ep1"); err != nil {
			t.Fatalf("DeletePushSubscription failed: %v", err)
		}
		subs, err = store.ListPushSubscriptions("user1")
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 1 || subs[0].Endpoint != "https://push.example.com/ep2" {
			t.Errorf("unexpected subscriptions after delete: %+v", subs)
		}
	})
}
