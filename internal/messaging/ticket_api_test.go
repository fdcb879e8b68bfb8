package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewTicketNotifierRequiresConfig(t *testing.T) {
	if _, err := NewTicketNotifier(); err == nil {
		t.Fatal("expected error without base URL")
	}
	if _, err := NewTicketNotifier(WithBaseURL("http://example.com/api/messages")); err == nil {
		t.Fatal("expected error without authorization token")
	}
}

func TestTicketNotifierSend(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewTicketNotifier(
		WithBaseURL(srv.URL+"/api/messages/"),
		WithAuthorization("INTEGRATION token"),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewTicketNotifier failed: %v", err)
	}

	err = n.Send(context.Background(), Destination{TicketID: 123}, "Olá!")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotPath != "/api/messages/123" {
		t.Errorf("expected path /api/messages/123, got %q", gotPath)
	}
	if gotAuth != "INTEGRATION token" {
		t.Errorf("expected integration token in Authorization header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	if gotBody["body"] != "Olá!" {
		t.Errorf("expected message body in JSON payload, got %v", gotBody)
	}
}

func TestTicketNotifierSendRejectsMissingTicket(t *testing.T) {
	n, err := NewTicketNotifier(
		WithBaseURL("http://example.com/api/messages"),
		WithAuthorization("token"),
	)
	if err != nil {
		t.Fatalf("NewTicketNotifier failed: %v", err)
	}
	if err := n.Send(context.Background(), Destination{}, "oi"); err == nil {
		t.Fatal("expected error for zero ticket id")
	}
}

func TestTicketNotifierSendNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ticket not found", http.StatusNotFound)
	}))
	defer srv.Close()

	n, err := NewTicketNotifier(
		WithBaseURL(srv.URL),
		WithAuthorization("token"),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewTicketNotifier failed: %v", err)
	}

	err = n.Send(context.Background(), Destination{TicketID: 9}, "oi")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "ticket not found") {
		t.Errorf("error should carry status and response detail, got %v", err)
	}
}

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 (92) 99999-0000", "5592999990000", false},
		{"5592999990000", "5592999990000", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, c := range cases {
		got, err := CanonicalizePhone(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("CanonicalizePhone(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalizePhone(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
