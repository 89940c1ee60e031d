package shivai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/core"
)

// Credential is the short-lived room URL + access token issued per call.
// It is owned by the session for one connection attempt and never reused.
type Credential struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type tokenRequest struct {
	AgentID   string `json:"agent_id"`
	Language  string `json:"language"`
	CallID    string `json:"call_id"`
	Device    string `json:"device"`
	UserAgent string `json:"user_agent"`
}

// fetchCredential performs one POST to the token endpoint. No retry; the
// caller may simply connect again.
func (s *Session) fetchCredential(ctx context.Context, agentTarget, language, callID string) (Credential, error) {
	body, err := json.Marshal(tokenRequest{
		AgentID:   agentTarget,
		Language:  language,
		CallID:    callID,
		Device:    deviceClass(),
		UserAgent: userAgent(),
	})
	if err != nil {
		return Credential{}, core.NewAPIError(fmt.Sprintf("encode token request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, core.NewInvalidRequestError(fmt.Sprintf("build token request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Credential{}, categorizeFetchError(err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(respBody))
		if text == "" {
			text = resp.Status
		}
		if mentionsToken(text) || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return Credential{}, core.NewAuthenticationError(fmt.Sprintf("authentication failed: %s", text))
		}
		return Credential{}, core.NewAPIError(fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, text))
	}
	if readErr != nil {
		return Credential{}, core.NewNetworkError(fmt.Sprintf("read token response: %v", readErr))
	}

	var cred Credential
	if err := json.Unmarshal(respBody, &cred); err != nil {
		return Credential{}, core.NewAPIError(fmt.Sprintf("decode token response: %v", err))
	}
	if strings.TrimSpace(cred.URL) == "" || strings.TrimSpace(cred.Token) == "" {
		return Credential{}, core.NewAPIError("token response missing url or token")
	}
	return cred, nil
}

// categorizeFetchError maps a transport-level failure to the session error
// taxonomy: timeout, network, or authentication when the failure text is
// token-related.
func categorizeFetchError(err error) *core.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewTimeoutError("token request timed out")
	case errors.Is(err, context.Canceled):
		return core.NewNetworkError("token request canceled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.NewTimeoutError("token request timed out")
	}
	if mentionsToken(err.Error()) {
		return core.NewAuthenticationError(fmt.Sprintf("authentication failed: %v", err))
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return core.NewNetworkError(fmt.Sprintf("token request failed: %v", err))
	}
	return core.NewNetworkError(fmt.Sprintf("token request failed: %v", err))
}

func mentionsToken(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "token") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "auth")
}
