package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-security/kestrel/internal/domain"
)

// Remote scores vectors against an external scoring service. The
// invocation is synchronous and non-cancelable; the client timeout is
// the only bound, per the boundary contract with the hosting service.
type Remote struct {
	url        string
	eventType  domain.EventType
	httpClient *http.Client
}

type remoteRequest struct {
	EventType string    `json:"event_type"`
	Features  []float64 `json:"features"`
}

type remoteResponse struct {
	Probability float64 `json:"probability"`
	Error       string  `json:"error,omitempty"`
}

// NewRemote creates a remote scorer client for one event type.
func NewRemote(url string, eventType domain.EventType, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		url:       url,
		eventType: eventType,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ScoreVector implements domain.Classifier.
func (r *Remote) ScoreVector(vector []float64) (float64, error) {
	body, err := json.Marshal(remoteRequest{
		EventType: string(r.eventType),
		Features:  vector,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal score request: %w", err)
	}

	resp, err := r.httpClient.Post(r.url+"/score", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("scorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode scorer response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("scorer error: %s", out.Error)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("scorer returned probability %v outside [0,1]", out.Probability)
	}

	return out.Probability, nil
}
