package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// newGitHubAPIServer は/userと/user/emailsを返すAPIサーバーを立てる。
func newGitHubAPIServer(t *testing.T, user map[string]interface{}, emails []map[string]interface{}) (*httptest.Server, *int) {
	t.Helper()
	emailCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		if got := r.Header.Get("Accept"); got != githubAcceptHeader {
			t.Errorf("Accept = %q, want %q", got, githubAcceptHeader)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		emailCalls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &emailCalls
}

func newTestGitHubProvider(t *testing.T, apiURL string) *GitHubOAuthProvider {
	t.Helper()
	tokenServer := newTokenServer(t, "gh-token")
	return NewGitHubOAuthProvider(GitHubOAuthConfig{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		RedirectURL:  "http://localhost:8080/api/auth/github/callback",
		TokenURL:     tokenServer.URL,
		APIURL:       apiURL,
	})
}

func TestGitHubOAuthProvider_LoginURL(t *testing.T) {
	provider := NewGitHubOAuthProvider(GitHubOAuthConfig{
		ClientID:    "gh-client",
		RedirectURL: "http://localhost:8080/api/auth/github/callback",
	})

	u, err := url.Parse(provider.LoginURL("st"))
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	if u.Host != "github.com" {
		t.Errorf("host = %q, want github.com", u.Host)
	}
	q := u.Query()
	if q.Get("client_id") != "gh-client" || q.Get("state") != "st" {
		t.Errorf("query = %v", q)
	}
	if q.Get("scope") != "read:user user:email" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestGitHubOAuthProvider_Exchange_PublicEmail(t *testing.T) {
	api, emailCalls := newGitHubAPIServer(t,
		map[string]interface{}{"id": 42, "login": "octocat", "name": "The Octocat", "email": "octo@x.com"},
		nil,
	)
	provider := newTestGitHubProvider(t, api.URL)

	profile, err := provider.Exchange(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	want := ExternalProfile{Provider: "github", Subject: "42", Email: "octo@x.com", DisplayName: "The Octocat"}
	if *profile != want {
		t.Errorf("profile = %+v, want %+v", *profile, want)
	}
	if *emailCalls != 0 {
		t.Error("emails endpoint should not be called when the profile has an email")
	}
}

// emailが非公開の場合は確認済みのprimary emailを使い、名前が無い場合はloginを使うこと
func TestGitHubOAuthProvider_Exchange_PrivateEmail(t *testing.T) {
	api, emailCalls := newGitHubAPIServer(t,
		map[string]interface{}{"id": 7, "login": "octocat"},
		[]map[string]interface{}{
			{"email": "secondary@x.com", "primary": false, "verified": true},
			{"email": "primary@x.com", "primary": true, "verified": true},
		},
	)
	provider := newTestGitHubProvider(t, api.URL)

	profile, err := provider.Exchange(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if profile.Email != "primary@x.com" {
		t.Errorf("email = %q, want primary@x.com", profile.Email)
	}
	if profile.DisplayName != "octocat" {
		t.Errorf("name = %q, want octocat", profile.DisplayName)
	}
	if *emailCalls != 1 {
		t.Errorf("emails calls = %d, want 1", *emailCalls)
	}
}

func TestGitHubOAuthProvider_Exchange_NoVerifiedEmail(t *testing.T) {
	api, _ := newGitHubAPIServer(t,
		map[string]interface{}{"id": 7, "login": "octocat"},
		[]map[string]interface{}{{"email": "p@x.com", "primary": true, "verified": false}},
	)
	provider := newTestGitHubProvider(t, api.URL)

	_, err := provider.Exchange(context.Background(), "test-auth-code")
	if !errors.Is(err, ErrProfileUnusable) {
		t.Errorf("err = %v, want ErrProfileUnusable", err)
	}
}

func TestGitHubOAuthProvider_Exchange_ProfileError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer api.Close()
	provider := newTestGitHubProvider(t, api.URL)

	if _, err := provider.Exchange(context.Background(), "test-auth-code"); err == nil {
		t.Fatal("expected error when profile fetch fails")
	}
}

func TestPrimaryVerifiedEmail(t *testing.T) {
	if got := primaryVerifiedEmail(nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	got := primaryVerifiedEmail([]githubEmail{
		{Email: "a@x.com", Primary: true, Verified: false},
		{Email: "b@x.com", Primary: true, Verified: true},
	})
	if got != "b@x.com" {
		t.Errorf("got %q, want b@x.com", got)
	}
}
