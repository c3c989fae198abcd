package sweep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WakeRequest is the body POSTed to a room's wake endpoint. The receiving
// room re-evaluates its round state against the server clock; the sweep never
// tells it what the outcome should be.
type WakeRequest struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	RoundNumber int    `json:"round_number"`
}

const WakeTypeProcessDeadline = "PROCESS_DEADLINE"

// Notifier delivers deadline wakes over HTTP.
type Notifier struct {
	baseURL string
	client  *http.Client
}

func NewNotifier(baseURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Wake POSTs a PROCESS_DEADLINE message to the gateway for one room. Any
// non-2xx response is an error so the worker leaves the deadline row
// unresolved and retries on the next pass.
func (n *Notifier) Wake(ctx context.Context, roomID string, roundNumber int) error {
	body, err := json.Marshal(WakeRequest{
		Type:        WakeTypeProcessDeadline,
		RoomID:      roomID,
		RoundNumber: roundNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal wake request: %w", err)
	}

	url := fmt.Sprintf("%s/api/rooms/%s/deadline", n.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build wake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver wake: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("wake rejected with status %d", resp.StatusCode)
	}
	return nil
}
