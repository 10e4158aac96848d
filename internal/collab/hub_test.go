package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"lexdesk/internal/session"
)

type fakeEditor struct {
	mu       sync.Mutex
	editors  map[string]bool
	saved    []string
	comments []CommentInput
	version  int
	lockErr  error
	released bool
}

func newFakeEditor(editors ...string) *fakeEditor {
	f := &fakeEditor{editors: map[string]bool{}, version: 1, released: true}
	for _, id := range editors {
		f.editors[id] = true
	}
	return f
}

func (f *fakeEditor) DocumentState(_ context.Context, documentID string) (DocumentState, error) {
	if documentID == "missing" {
		return DocumentState{}, errors.New("document not found")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return DocumentState{ID: documentID, Title: "Kontrate qiraje", Content: "Neni 1", VersionNumber: f.version}, nil
}

func (f *fakeEditor) CanEdit(_ context.Context, _ string, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.editors[userID], nil
}

func (f *fakeEditor) Save(_ context.Context, _ string, _ string, content, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, content)
	f.version++
	return f.version, nil
}

func (f *fakeEditor) AddComment(_ context.Context, _ string, userID string, input CommentInput) (CommentView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(input.Content) == "" {
		return CommentView{}, codedErr{code: "VALIDATION_ERROR", msg: "comment content cannot be empty"}
	}
	f.comments = append(f.comments, input)
	return CommentView{ID: int64(len(f.comments)), Content: input.Content, AuthorID: userID}, nil
}

func (f *fakeEditor) Lock(context.Context, string, string) error { return f.lockErr }

func (f *fakeEditor) Unlock(context.Context, string, string) (bool, error) { return f.released, nil }

type codedErr struct {
	code string
	msg  string
}

func (e codedErr) Error() string     { return e.msg }
func (e codedErr) ErrorCode() string { return e.code }

func recv(t *testing.T, p *Participant) map[string]any {
	t.Helper()
	select {
	case data, ok := <-p.Send:
		if !ok {
			t.Fatalf("queue for %s closed", p.UserID)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message for %s", p.UserID)
	}
	return nil
}

func expectQuiet(t *testing.T, p *Participant) {
	t.Helper()
	if n := len(p.Send); n != 0 {
		msg := recv(t, p)
		t.Fatalf("expected no message for %s, got %d queued (first %v)", p.UserID, n, msg)
	}
}

func joinPair(t *testing.T, hub *Hub) (*Participant, *Participant) {
	t.Helper()
	ctx := context.Background()
	alice, err := hub.Join(ctx, "doc-1", "alice", "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if msg := recv(t, alice); msg["type"] != EventDocumentState {
		t.Fatalf("first message = %v", msg)
	}
	bob, err := hub.Join(ctx, "doc-1", "bob", "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if msg := recv(t, bob); msg["type"] != EventDocumentState {
		t.Fatalf("first message = %v", msg)
	}
	if msg := recv(t, alice); msg["type"] != EventUserJoined || msg["user_id"] != "bob" {
		t.Fatalf("alice expected user_joined for bob, got %v", msg)
	}
	expectQuiet(t, bob)
	return alice, bob
}

func TestJoinSendsPrivateDocumentState(t *testing.T) {
	hub := NewHub(newFakeEditor("alice"))
	p, err := hub.Join(context.Background(), "doc-1", "alice", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	msg := recv(t, p)
	if msg["type"] != EventDocumentState || msg["id"] != "doc-1" || msg["content"] != "Neni 1" {
		t.Fatalf("unexpected state: %v", msg)
	}
	if msg["version_number"].(float64) != 1 || msg["is_locked"] != false {
		t.Fatalf("unexpected state fields: %v", msg)
	}
	expectQuiet(t, p)
}

func TestJoinUnknownDocumentFails(t *testing.T) {
	hub := NewHub(newFakeEditor())
	if _, err := hub.Join(context.Background(), "missing", "alice", "Alice"); err == nil {
		t.Fatal("expected join error")
	}
	if hub.RoomCount() != 0 {
		t.Fatalf("rooms = %d", hub.RoomCount())
	}
}

func TestEditOperationIsNotEchoed(t *testing.T) {
	hub := NewHub(newFakeEditor("alice", "bob"))
	alice, bob := joinPair(t, hub)

	hub.Handle(context.Background(), alice, []byte(`{"type":"edit_operation","operation_id":"op-1","operation_type":"insert","position":4,"content":"x"}`))

	msg := recv(t, bob)
	if msg["type"] != EventEditOperation || msg["user_id"] != "alice" || msg["username"] != "Alice" || msg["operation_id"] != "op-1" {
		t.Fatalf("bob got %v", msg)
	}
	expectQuiet(t, alice)
}

func TestUnauthorizedMutationGetsPrivateError(t *testing.T) {
	hub := NewHub(newFakeEditor("alice"))
	alice, bob := joinPair(t, hub)

	hub.Handle(context.Background(), bob, []byte(`{"type":"document_save","content":"hijack"}`))

	msg := recv(t, bob)
	if msg["type"] != EventError || msg["code"] != "PERMISSION_DENIED" {
		t.Fatalf("bob got %v", msg)
	}
	expectQuiet(t, alice)
}

func TestCursorUpdateAllowedForViewers(t *testing.T) {
	presence := session.NewMemoryStore()
	hub := NewHub(newFakeEditor("alice"), WithPresence(presence, time.Minute))
	alice, bob := joinPair(t, hub)

	hub.Handle(context.Background(), bob, []byte(`{"type":"cursor_update","position":12}`))

	msg := recv(t, alice)
	if msg["type"] != EventCursorUpdate || msg["position"].(float64) != 12 || msg["color"] != ColorFor("bob") {
		t.Fatalf("alice got %v", msg)
	}
	items, err := presence.ListPresence(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("list presence: %v", err)
	}
	found := false
	for _, item := range items {
		if item.UserID == "bob" && item.Cursor == 12 {
			found = true
		}
	}
	if !found {
		t.Fatalf("presence not recorded: %+v", items)
	}
}

func TestInvalidMessagesAreRejectedPrivately(t *testing.T) {
	hub := NewHub(newFakeEditor("alice", "bob"))
	alice, bob := joinPair(t, hub)

	cases := []string{
		`not json`,
		`{"content":"no type"}`,
		`{"type":"edit_operation","operation_id":"op-1","operation_type":"insert"}`,
		`{"type":"edit_operation","operation_id":"op-1","operation_type":"shuffle","position":1}`,
		`{"type":"selection_update","start":1}`,
		`{"type":"document_lock","action":"steal"}`,
		`{"type":"teleport"}`,
	}
	for _, raw := range cases {
		hub.Handle(context.Background(), alice, []byte(raw))
		msg := recv(t, alice)
		if msg["type"] != EventError || msg["code"] != "VALIDATION_ERROR" {
			t.Fatalf("%s: got %v", raw, msg)
		}
	}
	expectQuiet(t, bob)
}

func TestCommentAddPersistsBeforeBroadcast(t *testing.T) {
	editor := newFakeEditor("alice", "bob")
	hub := NewHub(editor)
	alice, bob := joinPair(t, hub)

	hub.Handle(context.Background(), bob, []byte(`{"type":"comment_add","content":"Kontrollo afatin","position_start":3,"position_end":9}`))

	if len(editor.comments) != 1 || *editor.comments[0].PositionStart != 3 {
		t.Fatalf("comment not persisted: %+v", editor.comments)
	}
	msg := recv(t, alice)
	comment, _ := msg["comment"].(map[string]any)
	if msg["type"] != EventCommentAdd || comment["id"].(float64) != 1 || comment["author_id"] != "bob" {
		t.Fatalf("alice got %v", msg)
	}
	ack := recv(t, bob)
	if ack["type"] != EventAck || ack["ack_of"] != EventCommentAdd {
		t.Fatalf("bob got %v", ack)
	}

	hub.Handle(context.Background(), bob, []byte(`{"type":"comment_add","content":"   "}`))
	if msg := recv(t, bob); msg["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bob got %v", msg)
	}
	expectQuiet(t, alice)
}

func TestDocumentSaveBroadcastsVersion(t *testing.T) {
	editor := newFakeEditor("alice", "bob")
	hub := NewHub(editor)
	alice, bob := joinPair(t, hub)

	hub.Handle(context.Background(), alice, []byte(`{"type":"document_save","content":"Neni 1\nNeni 2"}`))

	msg := recv(t, bob)
	if msg["type"] != EventDocumentSaved || msg["version_number"].(float64) != 2 || msg["user_id"] != "alice" {
		t.Fatalf("bob got %v", msg)
	}
	ack := recv(t, alice)
	if ack["ack_of"] != EventDocumentSave || ack["version_number"].(float64) != 2 {
		t.Fatalf("alice got %v", ack)
	}
	if len(editor.saved) != 1 || editor.saved[0] != "Neni 1\nNeni 2" {
		t.Fatalf("saved = %v", editor.saved)
	}
}

func TestDocumentLockAndUnlock(t *testing.T) {
	editor := newFakeEditor("alice", "bob")
	hub := NewHub(editor)
	alice, bob := joinPair(t, hub)
	ctx := context.Background()

	hub.Handle(ctx, alice, []byte(`{"type":"document_lock","action":"lock"}`))
	if msg := recv(t, bob); msg["type"] != EventDocumentLocked {
		t.Fatalf("bob got %v", msg)
	}
	recv(t, alice)

	editor.lockErr = codedErr{code: "LOCK_CONFLICT", msg: "document is locked by Alice"}
	hub.Handle(ctx, bob, []byte(`{"type":"document_lock","action":"lock"}`))
	if msg := recv(t, bob); msg["code"] != "LOCK_CONFLICT" {
		t.Fatalf("bob got %v", msg)
	}
	expectQuiet(t, alice)

	editor.released = false
	hub.Handle(ctx, bob, []byte(`{"type":"document_lock","action":"unlock"}`))
	if msg := recv(t, bob); msg["code"] != "LOCK_NOT_HELD" {
		t.Fatalf("bob got %v", msg)
	}

	editor.released = true
	hub.Handle(ctx, alice, []byte(`{"type":"document_lock","action":"unlock"}`))
	if msg := recv(t, bob); msg["type"] != EventDocumentUnlocked {
		t.Fatalf("bob got %v", msg)
	}
}

func TestLeaveNotifiesAndDiscardsEmptyRoom(t *testing.T) {
	hub := NewHub(newFakeEditor("alice", "bob"))
	alice, bob := joinPair(t, hub)
	ctx := context.Background()

	hub.Leave(ctx, bob)
	msg := recv(t, alice)
	if msg["type"] != EventUserLeft || msg["user_id"] != "bob" {
		t.Fatalf("alice got %v", msg)
	}
	if _, ok := <-bob.Send; ok {
		t.Fatal("bob's queue should be closed")
	}
	if got := hub.Participants("doc-1"); len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("participants = %+v", got)
	}

	hub.Leave(ctx, alice)
	hub.Leave(ctx, alice)
	if hub.RoomCount() != 0 {
		t.Fatalf("rooms = %d, want 0", hub.RoomCount())
	}
}

func TestSlowParticipantIsDroppedAndAnnounced(t *testing.T) {
	presence := session.NewMemoryStore()
	hub := NewHub(newFakeEditor("alice", "bob"), WithPresence(presence, time.Minute))
	alice, bob := joinPair(t, hub)
	ctx := context.Background()

	// alice never drains her queue.
	for i := 0; i < sendQueueSize+5; i++ {
		hub.Handle(ctx, bob, []byte(`{"type":"cursor_update","position":3}`))
	}
	if got := hub.Participants("doc-1"); len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("participants after drop = %+v", got)
	}

	hub.Leave(ctx, alice)
	msg := recv(t, bob)
	if msg["type"] != EventUserLeft || msg["user_id"] != "alice" {
		t.Fatalf("bob got %v", msg)
	}
	items, err := presence.ListPresence(ctx, "doc-1")
	if err != nil {
		t.Fatalf("list presence: %v", err)
	}
	for _, item := range items {
		if item.UserID == "alice" {
			t.Fatalf("alice presence not removed: %+v", items)
		}
	}

	hub.Leave(ctx, alice)
	expectQuiet(t, bob)
}

func TestColorForIsStable(t *testing.T) {
	if ColorFor("alice") != ColorFor("alice") {
		t.Fatal("color must be deterministic")
	}
	for _, id := range []string{"a", "b", "usr_123", ""} {
		color := ColorFor(id)
		found := false
		for _, c := range palette {
			if c == color {
				found = true
			}
		}
		if !found {
			t.Fatalf("color %q not in palette", color)
		}
	}
}

func TestRedisRelayCrossesNodes(t *testing.T) {
	srv := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	editor := newFakeEditor("alice", "bob")
	hubA := NewHub(editor, WithRelay(NewRedisRelay(clientA, nil)))
	hubB := NewHub(editor, WithRelay(NewRedisRelay(clientB, nil)))
	if err := hubA.Start(ctx); err != nil {
		t.Fatalf("start A: %v", err)
	}
	if err := hubB.Start(ctx); err != nil {
		t.Fatalf("start B: %v", err)
	}

	alice, err := hubA.Join(ctx, "doc-1", "alice", "Alice")
	if err != nil {
		t.Fatalf("join A: %v", err)
	}
	recv(t, alice)
	// let alice's user_joined pass through node B before bob has a room there
	time.Sleep(100 * time.Millisecond)
	bob, err := hubB.Join(ctx, "doc-1", "bob", "Bob")
	if err != nil {
		t.Fatalf("join B: %v", err)
	}
	recv(t, bob)
	if msg := recv(t, alice); msg["type"] != EventUserJoined || msg["user_id"] != "bob" {
		t.Fatalf("alice got %v", msg)
	}

	hubA.Handle(ctx, alice, []byte(`{"type":"edit_operation","operation_id":"op-9","operation_type":"delete","position":0,"length":3}`))
	msg := recv(t, bob)
	if msg["type"] != EventEditOperation || msg["operation_id"] != "op-9" {
		t.Fatalf("bob got %v", msg)
	}
	time.Sleep(50 * time.Millisecond)
	expectQuiet(t, alice)
}

func TestServeConnOverWebsocket(t *testing.T) {
	hub := NewHub(newFakeEditor("alice"))
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeConn(r.Context(), conn, "doc-1", r.URL.Query().Get("user"), r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	alice, _, err := websocket.DefaultDialer.Dial(url+"?user=alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	readJSON := func(conn *websocket.Conn) map[string]any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}
	if msg := readJSON(alice); msg["type"] != EventDocumentState {
		t.Fatalf("alice got %v", msg)
	}

	bob, _, err := websocket.DefaultDialer.Dial(url+"?user=bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	if msg := readJSON(bob); msg["type"] != EventDocumentState {
		t.Fatalf("bob got %v", msg)
	}
	if msg := readJSON(alice); msg["type"] != EventUserJoined {
		t.Fatalf("alice got %v", msg)
	}

	if err := alice.WriteJSON(map[string]any{"type": "edit_operation", "operation_id": "op-1", "operation_type": "replace", "position": 2, "content": "y"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readJSON(bob); msg["type"] != EventEditOperation || msg["user_id"] != "alice" {
		t.Fatalf("bob got %v", msg)
	}

	_ = bob.Close()
	if msg := readJSON(alice); msg["type"] != EventUserLeft || msg["user_id"] != "bob" {
		t.Fatalf("alice got %v", msg)
	}
}
