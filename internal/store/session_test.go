package store

import (
	"testing"
	"time"
)

func TestSessionCreate(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	sess, err := ss.Create(userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.UserID != userID {
		t.Errorf("user_id = %d, want %d", sess.UserID, userID)
	}
	if !sess.ExpiresAt.After(time.Now().Add(SessionTTL - time.Hour)) {
		t.Errorf("expires_at = %v, expected about %v from now", sess.ExpiresAt, SessionTTL)
	}
}

func TestSessionGetByToken(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	created, _ := ss.Create(createTestUser(t, db, "alice@example.com"))

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil || sess.ID != created.ID {
		t.Fatalf("got %+v, want id %d", sess, created.ID)
	}

	missing, err := ss.GetByToken("nonexistent")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestSessionExpired(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	created, _ := ss.Create(createTestUser(t, db, "alice@example.com"))

	if _, err := db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Minute), created.ID); err != nil {
		t.Fatalf("expire session: %v", err)
	}

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected expired session to be ignored")
	}

	n, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestSessionDelete(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	created, _ := ss.Create(createTestUser(t, db, "alice@example.com"))

	if err := ss.Delete(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sess, _ := ss.GetByToken(created.Token)
	if sess != nil {
		t.Error("expected session to be deleted")
	}
}

func TestSessionDeleteByUserID(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	userID := createTestUser(t, db, "alice@example.com")

	s1, _ := ss.Create(userID)
	s2, _ := ss.Create(userID)

	if err := ss.DeleteByUserID(userID); err != nil {
		t.Fatalf("delete by user: %v", err)
	}
	for _, tok := range []string{s1.Token, s2.Token} {
		if sess, _ := ss.GetByToken(tok); sess != nil {
			t.Errorf("session %s still present", tok)
		}
	}
}

func TestSessionCascadeOnUserDelete(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSessionStore(db)
	userID := createTestUser(t, db, "alice@example.com")
	created, _ := ss.Create(userID)

	if err := NewUserStore(db).Delete(userID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if sess, _ := ss.GetByToken(created.Token); sess != nil {
		t.Error("expected session removed with its user")
	}
}
