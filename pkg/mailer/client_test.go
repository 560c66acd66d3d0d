package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reviewpulse/platform/pkg/common/httpclient"
	"github.com/reviewpulse/platform/pkg/common/retry"
)

func testMailClient(baseURL string) *Client {
	return &Client{
		http:    httpclient.New(2 * time.Second),
		baseURL: baseURL,
		apiKey:  "key-123",
		policy:  retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}
}

func TestSendPostsMessage(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-123" {
			t.Errorf("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := testMailClient(srv.URL).Send(context.Background(), "owner@example.com", "[HIGH] alert", "<p>body</p>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "owner@example.com" || got.Subject != "[HIGH] alert" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSendIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := testMailClient(srv.URL).Send(context.Background(), "a@b.c", "s", "b"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("send must not retry within one flush, got %d calls", calls)
	}
}

func TestRecipientForAccountRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"email":"owner@example.com"}`)
	}))
	defer srv.Close()

	email, err := testMailClient(srv.URL).RecipientForAccount(context.Background(), "acct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "owner@example.com" {
		t.Fatalf("unexpected recipient %q", email)
	}
	if calls != 2 {
		t.Fatalf("expected retried lookup, got %d calls", calls)
	}
}

func TestRecipientForAccountRejectsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	if _, err := testMailClient(srv.URL).RecipientForAccount(context.Background(), "acct"); err == nil {
		t.Fatal("expected error for account without recipient")
	}
}
