package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type sosEvent struct {
	SessionID       string `json:"session_id"`
	CreatorDeviceID string `json:"creator_device_id"`
	Status          string `json:"status"`
	Attempts        int    `json:"attempts"`
	Cancelled       bool   `json:"cancelled"`
	DecodeNote      string `json:"decode_note"`
	UpdatedAt       int64  `json:"updated_at"`
}

type apiError struct {
	Error string `json:"error"`
}

func token() string {
	if authToken != "" {
		return authToken
	}
	return os.Getenv("GUARDIAN_TOKEN")
}

// call performs one authenticated request and decodes the JSON response
// into out (when non-nil). Non-2xx responses surface the API error message.
func call(method, path string, out any) error {
	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	tok := token()
	if tok == "" {
		return fmt.Errorf("no token: pass --token or set GUARDIAN_TOKEN")
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
