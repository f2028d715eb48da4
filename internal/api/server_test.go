package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/fanout"
	"github.com/elizkhv/quicktalk/internal/identity"
	"github.com/elizkhv/quicktalk/internal/outbox"
	"github.com/elizkhv/quicktalk/internal/projector"
	"github.com/elizkhv/quicktalk/internal/status"
	"github.com/elizkhv/quicktalk/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	writer := fanout.NewWriter(db, b, nil)
	dispatcher := outbox.NewDispatcher(db, writer, b, nil)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	machine := status.NewMachine(b)
	if err := machine.Transition(status.Ready); err != nil {
		t.Fatal(err)
	}

	tokens := identity.NewManager("test-secret", time.Hour)
	proj := projector.New(db, b, nil)
	return New(db, proj, tokens, b, machine, nil)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("invalid json %q: %v", raw, err)
		}
	}
	return resp, decoded
}

// registerAndLogin creates a user and returns (uid, token).
func registerAndLogin(t *testing.T, s *Server, email string) (string, string) {
	t.Helper()
	resp, body := doJSON(t, s, "POST", "/v1/users", "", map[string]string{
		"email": email, "password": "pw", "avatar": "av-" + email,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d (%v)", email, resp.StatusCode, body)
	}
	uid, _ := body["uid"].(string)

	resp, body = doJSON(t, s, "POST", "/v1/login", "", map[string]string{
		"email": email, "password": "pw",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d (%v)", email, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if uid == "" || token == "" {
		t.Fatalf("missing uid/token: %v", body)
	}
	return uid, token
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "a@example.com")

	resp, _ := doJSON(t, s, "POST", "/v1/users", "", map[string]string{
		"email": "a@example.com", "password": "pw",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "a@example.com")

	resp, _ := doJSON(t, s, "POST", "/v1/login", "", map[string]string{
		"email": "a@example.com", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	resp, _ := doJSON(t, s, "GET", "/v1/conversations", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSendFlowThroughOutbox(t *testing.T) {
	s := newTestServer(t)
	u1, token1 := registerAndLogin(t, s, "u1@example.com")
	u2, token2 := registerAndLogin(t, s, "u2@example.com")

	resp, body := doJSON(t, s, "POST", "/v1/messages", token1, map[string]string{
		"to_id": u2, "text": "hello there",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send: status %d (%v)", resp.StatusCode, body)
	}
	clientMsgID, _ := body["client_msg_id"].(string)
	if clientMsgID == "" {
		t.Fatalf("no client_msg_id in %v", body)
	}

	// The dispatcher is asynchronous; wait for the entry to settle.
	waitForStatus(t, s, token1, clientMsgID, "sent")

	// Both partitions see the message.
	for _, side := range []struct{ token, peer string }{{token1, u2}, {token2, u1}} {
		resp, body := doJSON(t, s, "GET", "/v1/messages/"+side.peer, side.token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list: status %d", resp.StatusCode)
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want 1 (%v)", len(msgs), body)
		}
		m := msgs[0].(map[string]any)
		if m["text"] != "hello there" || m["from_id"] != u1 {
			t.Errorf("message = %v", m)
		}
	}

	// Sender's conversation list now has one entry for the recipient,
	// carrying the recipient's display metadata.
	resp, body = doJSON(t, s, "GET", "/v1/conversations", token1, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conversations: status %d", resp.StatusCode)
	}
	convs, _ := body["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1 (%v)", len(convs), body)
	}
	conv := convs[0].(map[string]any)
	if conv["id"] != u2 || conv["text"] != "hello there" {
		t.Errorf("conversation = %v", conv)
	}
	if conv["email"] != "u2@example.com" {
		t.Errorf("conversation missing recipient email: %v", conv)
	}

	// The recipient's list is untouched by the sender's summary write.
	_, body = doJSON(t, s, "GET", "/v1/conversations", token2, nil)
	if convs, _ := body["conversations"].([]any); len(convs) != 0 {
		t.Errorf("recipient conversations = %v, want none", convs)
	}
}

func TestSecondSendReplacesConversation(t *testing.T) {
	s := newTestServer(t)
	_, token1 := registerAndLogin(t, s, "u1@example.com")
	u2, _ := registerAndLogin(t, s, "u2@example.com")

	for _, text := range []string{"hi", "again"} {
		resp, body := doJSON(t, s, "POST", "/v1/messages", token1, map[string]string{
			"to_id": u2, "text": text,
		})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("send: status %d", resp.StatusCode)
		}
		id, _ := body["client_msg_id"].(string)
		waitForStatus(t, s, token1, id, "sent")
	}

	_, body := doJSON(t, s, "GET", "/v1/conversations", token1, nil)
	convs, _ := body["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	conv := convs[0].(map[string]any)
	if conv["text"] != "again" {
		t.Errorf("conversation text = %v, want 'again'", conv["text"])
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestServer(t)
	u1, token1 := registerAndLogin(t, s, "u1@example.com")
	u2, _ := registerAndLogin(t, s, "u2@example.com")

	// Seed past the default page size directly, bypassing the dispatcher.
	for i := 0; i < 55; i++ {
		m := &store.Message{FromID: u1, ToID: u2, Body: "m", Timestamp: int64(1000 + i)}
		if _, err := s.db.AppendMessage(u1, u2, m); err != nil {
			t.Fatal(err)
		}
	}

	// A zero limit falls back to the default page size, and has_more must
	// reflect that normalized limit, not the raw query value.
	resp, body := doJSON(t, s, "GET", "/v1/messages/"+u2+"?limit=0", token1, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 50 {
		t.Fatalf("got %d messages, want default page of 50", len(msgs))
	}
	if hasMore, _ := body["has_more"].(bool); !hasMore {
		t.Error("has_more = false with 5 messages left")
	}

	// An explicit limit below the total also reports more.
	_, body = doJSON(t, s, "GET", "/v1/messages/"+u2+"?limit=10", token1, nil)
	if msgs, _ := body["messages"].([]any); len(msgs) != 10 {
		t.Fatalf("got %d messages, want 10", len(msgs))
	}
	if hasMore, _ := body["has_more"].(bool); !hasMore {
		t.Error("has_more = false with 45 messages left")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	_, token := registerAndLogin(t, s, "u1@example.com")

	resp, body := doJSON(t, s, "GET", "/v1/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["state"] != string(status.Ready) {
		t.Errorf("state = %v, want READY", body["state"])
	}
}

func waitForStatus(t *testing.T, s *Server, token, clientMsgID, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		_, body := doJSON(t, s, "GET", fmt.Sprintf("/v1/messages/outbox/%s", clientMsgID), token, nil)
		if body["status"] == want {
			return
		}
		if body["status"] == "failed" && want != "failed" {
			t.Fatalf("send failed: %v", body["error"])
		}
		select {
		case <-deadline:
			t.Fatalf("outbox entry %s never reached %q (last: %v)", clientMsgID, want, body["status"])
		case <-time.After(20 * time.Millisecond):
		}
	}
}
