package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/dealdesk/internal/crm"
)

const requestTimeout = 10 * time.Second

var httpc = &http.Client{Timeout: requestTimeout}

func endpoint(path string) string {
	return strings.TrimRight(apiAddr, "/") + path
}

// errNoChange reports a 204 answer: the daemon accepted the request but
// nothing changed.
var errNoChange = errors.New("nothing changed")

// apiDo sends a JSON request and returns the response body. A 204 answer
// yields errNoChange.
func apiDo(method, path string, data any) ([]byte, error) {
	var payload io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, endpoint(path), payload)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach daemon at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	switch {
	case err != nil:
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	case resp.StatusCode == http.StatusNoContent:
		return nil, errNoChange
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// apiGet performs a GET request and decodes the answer into out.
func apiGet(path string, out any) error {
	body, err := apiDo(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// apiSend performs a write. out may be nil. A 204 answer is reported to the
// user once and is not an error.
func apiSend(method, path string, data, out any) (bool, error) {
	body, err := apiDo(method, path, data)
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

// CheckHealth queries /health. The decoded payload is returned alongside the
// error when the daemon answers with a non-200 status.
func CheckHealth() (*crm.HealthResponse, error) {
	resp, err := httpc.Get(endpoint("/health"))
	if err != nil {
		return nil, fmt.Errorf("reach daemon at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()

	var health crm.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("daemon unhealthy: status %d, db %s", resp.StatusCode, health.DB)
	}
	return &health, nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
