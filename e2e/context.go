//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	jwttoken "consentledger/internal/jwt_token"
	"consentledger/internal/platform/config"
	id "consentledger/pkg/domain"
	"consentledger/pkg/testutil"
)

// Actors are the wallets the scenarios act as. The server under test must hold
// the signer seeds of alice and bob (LEDGER_SIGNER_SEEDS).
var actorSeeds = map[string]byte{
	"alice": testutil.SeedAlice,
	"bob":   testutil.SeedBob,
	"carol": testutil.SeedCarol,
}

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	// Actor is the wallet requests are made as; empty means unauthenticated.
	Actor  string
	tokens map[string]string
	issuer *jwttoken.JWTService

	// Saved holds values captured from earlier responses, keyed by name.
	Saved map[string]string
}

// NewTestContext creates a test context whose tokens are minted with the same
// auth settings the server reads from the environment.
func NewTestContext() (*TestContext, error) {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	issuer := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	issuer.SetEnv(cfg.Environment)

	return &TestContext{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: make(map[string]string),
		issuer: issuer,
		Saved:  make(map[string]string),
	}, nil
}

// AddressOf resolves an actor name to its wallet address.
func (tc *TestContext) AddressOf(actor string) (id.Address, error) {
	seed, ok := actorSeeds[strings.ToLower(actor)]
	if !ok {
		return "", fmt.Errorf("unknown actor %q", actor)
	}
	return testutil.AddressFromSeed(seed), nil
}

// ActAs switches the bearer token used by later requests.
func (tc *TestContext) ActAs(actor string) error {
	actor = strings.ToLower(actor)
	if _, ok := tc.tokens[actor]; ok {
		tc.Actor = actor
		return nil
	}
	addr, err := tc.AddressOf(actor)
	if err != nil {
		return err
	}
	token, _, err := tc.issuer.GenerateAccessToken(context.Background(), addr)
	if err != nil {
		return fmt.Errorf("mint token for %s: %w", actor, err)
	}
	tc.tokens[actor] = token
	tc.Actor = actor
	return nil
}

func (tc *TestContext) Anonymous() {
	tc.Actor = ""
}

// Do sends a request as the current actor and stores the response.
func (tc *TestContext) Do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.Actor != "" {
		req.Header.Set("Authorization", "Bearer "+tc.tokens[tc.Actor])
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.Do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) POSTWithHeaders(path string, body any, headers map[string]string) error {
	return tc.Do(http.MethodPost, path, body, headers)
}

func (tc *TestContext) GET(path string) error {
	return tc.Do(http.MethodGet, path, nil, nil)
}

// GetResponseField extracts a field from the JSON response. Dotted paths
// walk nested objects and numeric segments index arrays.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	cur := data
	for _, part := range strings.Split(field, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %s not found in response", field)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %s out of range in %s", part, field)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("field %s not found in response", field)
		}
	}
	return cur, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}
	_, err := tc.GetResponseField(text)
	return err == nil
}

func (tc *TestContext) Remember(name, value string) {
	tc.Saved[name] = value
}

func (tc *TestContext) Recall(name string) (string, error) {
	v, ok := tc.Saved[name]
	if !ok {
		return "", fmt.Errorf("nothing saved as %q", name)
	}
	return v, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}
