package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pippuri/whim-bot-sub000/internal/config"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// HTTPAdapter talks to one TSP over its HTTP booking API. All provider
// variants share this implementation; behavior differences are expressed in
// configuration (base URL, credentials, capability flags), not subclasses.
type HTTPAdapter struct {
	cfg    config.ProviderConfig
	caps   map[string]bool
	client *http.Client
	logger *logrus.Logger
}

// NewHTTPAdapter creates an adapter for one provider configuration. Every
// request is bounded by the configured timeout; a timed-out provider call
// surfaces as a ProviderError, not a hang.
func NewHTTPAdapter(cfg config.ProviderConfig, logger *logrus.Logger) *HTTPAdapter {
	caps := make(map[string]bool, len(cfg.Capabilities))
	for _, op := range cfg.Capabilities {
		caps[op] = true
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &HTTPAdapter{
		cfg:    cfg,
		caps:   caps,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// AgencyID returns the provider's agency identifier.
func (a *HTTPAdapter) AgencyID() string {
	return a.cfg.AgencyID
}

// SupportsOperation reports whether the provider implements the operation.
func (a *HTTPAdapter) SupportsOperation(op string) bool {
	return a.caps[op]
}

// Reserve creates a reservation with the provider.
func (a *HTTPAdapter) Reserve(ctx context.Context, req ReservationRequest) (*ReservationResponse, error) {
	var resp ReservationResponse
	if err := a.do(ctx, http.MethodPost, "/bookings", req, &resp); err != nil {
		return nil, err
	}
	if resp.TSPID == "" {
		return nil, models.NewProviderError(nil, "%s returned a reservation without tsp id", a.cfg.AgencyID)
	}
	resp.State = normalizeReservationState(resp.State)
	return &resp, nil
}

// Cancel cancels a reservation with the provider.
func (a *HTTPAdapter) Cancel(ctx context.Context, tspID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := a.do(ctx, http.MethodDelete, "/bookings/"+tspID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.State == "" {
		resp.State = models.StateCancelled
	}
	return &resp, nil
}

// Retrieve fetches the provider's current view of a reservation.
func (a *HTTPAdapter) Retrieve(ctx context.Context, tspID string) (*ReservationResponse, error) {
	var resp ReservationResponse
	if err := a.do(ctx, http.MethodGet, "/bookings/"+tspID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Query searches the provider's available options.
func (a *HTTPAdapter) Query(ctx context.Context, criteria QueryCriteria) ([]QueryOption, error) {
	var resp struct {
		Options []QueryOption `json:"options"`
	}
	if err := a.do(ctx, http.MethodPost, "/bookings/query", criteria, &resp); err != nil {
		return nil, err
	}
	return resp.Options, nil
}

// do runs one provider HTTP round trip: marshal, authenticate, check status,
// decode. Non-2xx responses and transport failures both map to ProviderError.
func (a *HTTPAdapter) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return models.NewInternalError(err, "failed to encode %s request", a.cfg.AgencyID)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return models.NewInternalError(err, "failed to build %s request", a.cfg.AgencyID)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", a.cfg.APIKey)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return models.NewProviderError(err, "%s request to %s failed", a.cfg.AgencyID, path)
	}
	defer resp.Body.Close()

	a.logger.WithFields(logrus.Fields{
		"agency":      a.cfg.AgencyID,
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Provider request completed")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewProviderError(err, "failed to read %s response", a.cfg.AgencyID)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.NewProviderError(
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200)),
			"%s rejected %s %s", a.cfg.AgencyID, method, path,
		)
	}

	if dest != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, dest); err != nil {
			return models.NewProviderError(err, "failed to decode %s response", a.cfg.AgencyID)
		}
	}
	return nil
}

// normalizeReservationState clamps provider-reported states to the ones the
// booking table accepts; anything unrecognized counts as RESERVED.
func normalizeReservationState(state string) string {
	switch state {
	case models.StateReserved, models.StateConfirmed, models.StateActivated:
		return state
	default:
		return models.StateReserved
	}
}

func truncate(raw []byte, max int) string {
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
