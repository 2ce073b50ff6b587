// Package validator talks to the external QTI schema validation service.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"itemforge/api/internal/gate"
)

// Client implements gate.StructureChecker against the validator's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type checkRequest struct {
	Document string `json:"document"`
}

type checkResponse struct {
	Status     string   `json:"status"`
	Violations []string `json:"violations"`
}

// CheckStructure posts the document for schema validation. A fail
// verdict is a normal result; errors mean the service itself could not
// be reached or answered garbage.
func (c *Client) CheckStructure(ctx context.Context, document string) (gate.StructuralVerdict, error) {
	body, err := json.Marshal(checkRequest{Document: document})
	if err != nil {
		return gate.StructuralVerdict{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return gate.StructuralVerdict{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gate.StructuralVerdict{}, fmt.Errorf("validator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return gate.StructuralVerdict{}, fmt.Errorf("validator returned %d: %s", resp.StatusCode, snippet)
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return gate.StructuralVerdict{}, fmt.Errorf("decode response: %w", err)
	}

	switch out.Status {
	case "pass":
		return gate.StructuralVerdict{Status: gate.StatusPass}, nil
	case "fail":
		return gate.StructuralVerdict{Status: gate.StatusFail, Violations: out.Violations}, nil
	default:
		return gate.StructuralVerdict{}, fmt.Errorf("unknown validator status %q", out.Status)
	}
}

var _ gate.StructureChecker = (*Client)(nil)
