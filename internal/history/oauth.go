package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/nugget/jarvis-core/internal/config"
	"github.com/nugget/jarvis-core/internal/httpkit"
)

// ErrNotAuthorized is returned when Drive access needs a token that has
// not been obtained yet. Run "jarvis history auth".
var ErrNotAuthorized = errors.New("google drive not authorized")

// DriveAuth manages the OAuth client secret and the user token for
// Drive access. Only files the application created are visible to it.
type DriveAuth struct {
	CredentialsFile string
	TokenFile       string
	Logger          *slog.Logger
}

func (a *DriveAuth) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// OAuthConfig reads the client secret downloaded from the Google Cloud
// console.
func (a *DriveAuth) OAuthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(a.CredentialsFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: credentials file %s not found", ErrNotConfigured, a.CredentialsFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", a.CredentialsFile, err)
	}
	return cfg, nil
}

// LoadToken reads the saved user token.
func (a *DriveAuth) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.TokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: token file %s is unreadable: %v", ErrNotAuthorized, a.TokenFile, err)
	}
	return &tok, nil
}

// SaveToken writes tok with owner-only permissions.
func (a *DriveAuth) SaveToken(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "    ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(a.TokenFile, data, 0o600)
}

// Client returns an HTTP client authorized for Drive. Refreshed tokens
// are written back to the token file.
func (a *DriveAuth) Client(ctx context.Context) (*http.Client, error) {
	cfg, err := a.OAuthConfig()
	if err != nil {
		return nil, err
	}
	tok, err := a.LoadToken()
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpkit.NewClient())
	ts := &savingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		last: tok.AccessToken,
		save: a.SaveToken,
		log:  a.logger(),
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}

// Authorize runs the installed-application flow: it prints a consent
// URL to out, waits for Google to redirect the browser to a loopback
// listener, exchanges the code and saves the token.
func (a *DriveAuth) Authorize(ctx context.Context, out io.Writer) error {
	cfg, err := a.OAuthConfig()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for redirect: %w", err)
	}
	defer ln.Close()
	cfg.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr())

	state, err := randomState()
	if err != nil {
		return err
	}

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	var once sync.Once
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := result{code: q.Get("code")}
		switch {
		case q.Get("state") != state:
			res.err = fmt.Errorf("redirect state mismatch")
		case q.Get("error") != "":
			res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
		case res.code == "":
			res.err = fmt.Errorf("redirect carried no code")
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Jarvis is authorized. You can close this window.")
		}
		once.Do(func() { done <- res })
	})}
	go srv.Serve(ln) //nolint:errcheck
	defer srv.Close()

	fmt.Fprintf(out, "Open this URL in a browser to authorize Google Drive access:\n\n  %s\n\n",
		cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	var res result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return res.err
	}

	tok, err := cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, httpkit.NewClient()), res.code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := a.SaveToken(tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	a.logger().Info("google drive authorized", "token_file", a.TokenFile)
	return nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// savingTokenSource persists each newly minted token.
type savingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token) error
	log  *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.save(tok); err != nil {
			s.log.Warn("failed to save refreshed drive token", "error", err)
		}
	}
	return tok, nil
}
