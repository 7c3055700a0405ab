package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Session authenticates requests made on behalf of the key holder.
type Session interface {
	Apply(req *http.Request)
	String() string
}

// CookieSession forwards the cookies handed out by key-login.
type CookieSession struct {
	token string
}

func NewCookieSession(cookies []*http.Cookie) CookieSession {
	return CookieSession{token: TokenFromCookies(cookies)}
}

func (s CookieSession) Apply(req *http.Request) {
	req.Header.Set("Cookie", s.token)
}

func (s CookieSession) Token() string {
	return s.token
}

func (s CookieSession) String() string {
	return "cookie session"
}

// BearerSession sends a static bearer token.
type BearerSession struct {
	Token string
}

func (s BearerSession) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.Token)
}

func (s BearerSession) String() string {
	return "bearer session"
}

// TokenFromCookies joins cookies as name=value pairs separated by commas,
// keeping their order. No cookies yields an empty token.
func TokenFromCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, ",")
}

// Authenticate exchanges an API key for a session.
func (c *Client) Authenticate(ctx context.Context, keyID, keyValue string) (Session, error) {
	q := url.Values{}
	q.Set("keyID", keyID)
	q.Set("keyValue", keyValue)
	uri := c.baseURL + keyLoginPath + "?" + q.Encode()

	var cookies []*http.Cookie
	err := c.retry.Do(ctx, "key-login", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fmt.Errorf("GET key-login, request creation failed: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach identity service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			return &statusError{StatusCode: resp.StatusCode, Message: messageFromBody(body)}
		}
		_, _ = io.Copy(io.Discard, resp.Body)

		cookies = resp.Cookies()
		return nil
	})
	if err != nil {
		return nil, newAPIError(ErrAuthentication, "key-login", err)
	}

	if len(cookies) == 0 {
		slog.Warn("Identity service returned no session cookies, continuing with empty session token")
	}

	slog.Debug("Authenticated with identity service", "cookies", len(cookies))
	return NewCookieSession(cookies), nil
}
