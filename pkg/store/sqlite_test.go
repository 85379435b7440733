package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSQLiteIdentity(t *testing.T, s *SQLiteStore) *Identity {
	t.Helper()
	ident := &Identity{Address: "+33612345678"}
	if err := s.CreateIdentity(context.Background(), ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return ident
}

func TestSQLiteAcceptsMultipleMessagesWithoutProviderID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	ident := seedSQLiteIdentity(t, s)

	// some platforms omit the message id; each such message is distinct
	first := &Message{IdentityID: ident.ID, Direction: DirectionInbound, Kind: KindText, Body: "Bonjour"}
	if err := s.CreateMessage(ctx, first); err != nil {
		t.Fatalf("first id-less message: %v", err)
	}
	second := &Message{IdentityID: ident.ID, Direction: DirectionInbound, Kind: KindText, Body: "Rebonjour"}
	if err := s.CreateMessage(ctx, second); err != nil {
		t.Fatalf("second id-less message: %v", err)
	}

	got, err := s.GetMessage(ctx, second.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.ProviderMessageID != "" || got.Body != "Rebonjour" {
		t.Fatalf("unexpected round-trip: %+v", got)
	}
}

func TestSQLiteDuplicateProviderID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	ident := seedSQLiteIdentity(t, s)

	first := &Message{IdentityID: ident.ID, ProviderMessageID: "wamid.1", Direction: DirectionInbound, Kind: KindText, Body: "Bonjour"}
	if err := s.CreateMessage(ctx, first); err != nil {
		t.Fatalf("create message: %v", err)
	}
	dup := &Message{IdentityID: ident.ID, ProviderMessageID: "wamid.1", Direction: DirectionInbound, Kind: KindText, Body: "Bonjour"}
	if err := s.CreateMessage(ctx, dup); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSQLiteRecentMessagesSkipsNullProviderID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	ident := seedSQLiteIdentity(t, s)

	withID := &Message{IdentityID: ident.ID, ProviderMessageID: "wamid.1", Direction: DirectionInbound, Kind: KindText, Body: "un"}
	withoutID := &Message{IdentityID: ident.ID, Direction: DirectionOutbound, Kind: KindText, Body: "deux"}
	for _, m := range []*Message{withID, withoutID} {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	got, err := s.RecentMessages(ctx, ident.ID, 15, time.Time{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	for _, m := range got {
		if m.Body == "deux" && m.ProviderMessageID != "" {
			t.Fatalf("null provider id must scan as empty, got %q", m.ProviderMessageID)
		}
	}

	if _, err := s.GetMessageByProviderID(ctx, "wamid.1"); err != nil {
		t.Fatalf("lookup by provider id: %v", err)
	}
}
