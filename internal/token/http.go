package token

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/drblury/ragstream/internal/runtime/config"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
)

// DefaultTimeout bounds a single token request.
const DefaultTimeout = 5 * time.Second

var errEmptyToken = errors.New("endpoint returned an empty token")

// NewHTTPClient returns the client used by the fetchers. verify=false skips
// TLS certificate checks for gateways with internal CAs.
func NewHTTPClient(verify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via *_VERIFY=false
	}
	return &http.Client{Timeout: DefaultTimeout, Transport: transport}
}

// ClientCredentialsFetcher performs an OAuth2 client_credentials grant with
// the client id and secret sent in the form body.
type ClientCredentialsFetcher struct {
	URL          string
	ClientID     string
	ClientSecret string
	Client       *http.Client
}

func (f *ClientCredentialsFetcher) FetchToken(ctx context.Context) (Token, error) {
	client := f.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	cc := clientcredentials.Config{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		TokenURL:     f.URL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, client))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return Token{}, &TokenFetchError{StatusCode: retrieveErr.Response.StatusCode, Err: err}
		}
		return Token{}, &TokenFetchError{Err: err}
	}
	if tok.AccessToken == "" {
		return Token{}, &TokenFetchError{Err: errEmptyToken}
	}

	var expiresIn time.Duration
	if !tok.Expiry.IsZero() {
		expiresIn = max(time.Until(tok.Expiry), 0)
	}
	return Token{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, nil
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginFetcher exchanges a login and password for a token set. The id_token
// is issued when present, otherwise the access_token.
type LoginFetcher struct {
	URL      string
	Login    string
	Password string
	Client   *http.Client
}

func (f *LoginFetcher) FetchToken(ctx context.Context) (Token, error) {
	payload, err := jsoncodec.Marshal(loginRequest{Login: f.Login, Password: f.Password})
	if err != nil {
		return Token{}, &TokenFetchError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(payload))
	if err != nil {
		return Token{}, &TokenFetchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var body loginResponse
	if err := do(f.Client, req, &body); err != nil {
		return Token{}, err
	}

	issued := body.IDToken
	if issued == "" {
		issued = body.AccessToken
	}
	if issued == "" {
		return Token{}, &TokenFetchError{Err: errEmptyToken}
	}
	return Token{AccessToken: issued, ExpiresIn: time.Duration(body.ExpiresIn) * time.Second}, nil
}

func do(client *http.Client, req *http.Request, out any) error {
	if client == nil {
		client = NewHTTPClient(true)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &TokenFetchError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TokenFetchError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TokenFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", bytes.TrimSpace(raw))}
	}
	if err := jsoncodec.Unmarshal(raw, out); err != nil {
		return &TokenFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// NewEPAManager builds the client-credentials manager used in gateway mode.
func NewEPAManager(cfg config.TokenEndpoint, opts ...Option) *Manager {
	return NewManager("epa", &ClientCredentialsFetcher{
		URL:          cfg.URL,
		ClientID:     cfg.Login,
		ClientSecret: cfg.Password,
		Client:       NewHTTPClient(cfg.Verify),
	}, opts...)
}

// NewRNDManager builds the login manager used in yandex mode.
func NewRNDManager(cfg config.TokenEndpoint, opts ...Option) *Manager {
	return NewManager("rnd", &LoginFetcher{
		URL:      cfg.URL,
		Login:    cfg.Login,
		Password: cfg.Password,
		Client:   NewHTTPClient(cfg.Verify),
	}, opts...)
}
