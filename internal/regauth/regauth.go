// Package regauth negotiates OCI Distribution registry authentication:
// WWW-Authenticate challenge parsing, bearer-token fetch, and a per-registry
// Authorization header cache (spec §4.3).
package regauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opendevcontainers/feature-engine/internal/credentials"
	"github.com/opendevcontainers/feature-engine/internal/transport"
)

// Sentinel errors, mapped to the spec §7 taxonomy by callers.
var (
	ErrMissingChallenge  = errors.New("missing WWW-Authenticate challenge")
	ErrUnsupportedScheme = errors.New("unsupported authentication scheme")
	ErrTokenFetchFailed  = errors.New("token fetch failed")
)

var (
	realmRe   = regexp.MustCompile(`realm="([^"]+)"`)
	serviceRe = regexp.MustCompile(`service="([^"]+)"`)
	scopeRe   = regexp.MustCompile(`scope="([^"]+)"`)
)

// Negotiator performs authenticatedRequest (spec §4.3) against a registry,
// caching the resulting Authorization header per registry host.
type Negotiator struct {
	transport *transport.Transport
	creds     *credentials.Source
	logger    zerolog.Logger

	mu    sync.Mutex
	cache map[string]string // registry -> Authorization header value
}

// New creates a Negotiator using t for HTTP calls and creds for credential
// resolution.
func New(t *transport.Transport, creds *credentials.Source, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		transport: t,
		creds:     creds,
		logger:    logger,
		cache:     make(map[string]string),
	}
}

// AuthenticatedRequest issues method/url/headers/body against registry,
// applying any cached Authorization header, re-challenging on 401 per
// spec §4.3, and caching the resulting header on success.
func (n *Negotiator) AuthenticatedRequest(
	ctx context.Context,
	registry, method, url string,
	headers http.Header,
	body []byte,
) (*transport.Response, error) {
	if headers == nil {
		headers = make(http.Header)
	} else {
		headers = headers.Clone()
	}

	if auth := n.cachedHeader(registry); auth != "" {
		headers.Set("Authorization", auth)
	}

	resp, err := n.transport.Request(ctx, method, url, headers, transport.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		n.cacheHeader(registry, headers.Get("Authorization"))
		return resp, nil
	}

	authHeader, err := n.challenge(ctx, registry, resp.Header)
	if err != nil {
		return nil, err
	}
	headers.Set("Authorization", authHeader)

	resp, err = n.transport.Request(ctx, method, url, headers, transport.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		n.cacheHeader(registry, authHeader)
	}
	return resp, nil
}

func (n *Negotiator) cachedHeader(registry string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cache[registry]
}

func (n *Negotiator) cacheHeader(registry, header string) {
	if header == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cache[registry] = header
}

// challenge parses the WWW-Authenticate header (case-insensitive lookup via
// http.Header.Get) and returns the Authorization header value to retry
// with.
func (n *Negotiator) challenge(ctx context.Context, registry string, respHeader http.Header) (string, error) {
	wwwAuth := respHeader.Get("WWW-Authenticate")
	if wwwAuth == "" {
		return "", ErrMissingChallenge
	}

	cred := n.creds.Resolve(registry)

	switch {
	case hasScheme(wwwAuth, "Bearer"):
		return n.bearerAuthorization(ctx, wwwAuth, cred)
	case hasScheme(wwwAuth, "Basic"):
		if !cred.Found {
			return "", ErrTokenFetchFailed
		}
		return basicHeader(cred.Username, cred.Token), nil
	default:
		return "", ErrUnsupportedScheme
	}
}

func hasScheme(header, scheme string) bool {
	return len(header) >= len(scheme) && equalFold(header[:len(scheme)], scheme)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (n *Negotiator) bearerAuthorization(ctx context.Context, wwwAuth string, cred credentials.Credential) (string, error) {
	realm := firstMatch(realmRe, wwwAuth)
	service := firstMatch(serviceRe, wwwAuth)
	scope := firstMatch(scopeRe, wwwAuth)
	if realm == "" {
		return "", ErrMissingChallenge
	}

	url := realm
	query := ""
	if service != "" {
		query += "service=" + service
	}
	if scope != "" {
		if query != "" {
			query += "&"
		}
		query += "scope=" + scope
	}
	if query != "" {
		url += "?" + query
	}

	headers := make(http.Header)
	if cred.Found {
		headers.Set("Authorization", basicHeader(cred.Username, cred.Token))
	}

	resp, err := n.transport.Request(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrTokenFetchFailed, resp.Status)
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	token := payload.Token
	if token == "" {
		token = payload.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrTokenFetchFailed)
	}
	return "Bearer " + token, nil
}

func basicHeader(user, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+token))
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
