package capital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rustyeddy/riskengine/broker"
)

type sessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Login opens a session with the account identifier and API key password
// and stores the returned CST and security token on c.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body, err := json.Marshal(sessionRequest{Identifier: identifier, Password: password})
	if err != nil {
		return fmt.Errorf("login: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("login: create request: %w", err)
	}
	req.Header.Set("X-CAP-API-KEY", c.Creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var ep errorPayload
		if json.Unmarshal(b, &ep) == nil && ep.ErrorCode != "" {
			return &broker.RejectionError{Op: "login", Code: ep.ErrorCode}
		}
		return fmt.Errorf("login: capital http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	cst, tok := resp.Header.Get("CST"), resp.Header.Get("X-SECURITY-TOKEN")
	if cst == "" || tok == "" {
		return fmt.Errorf("login: session headers missing from response")
	}
	c.Creds.CST = cst
	c.Creds.SecurityToken = tok
	return nil
}
