// Package gateway is the stateless protocol adapter between the record store
// and the picking backend. It attaches the session credential, normalises
// response shapes and classifies failures; it holds no session state itself.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nwfth/rm-unpick/internal/model"
	"github.com/nwfth/rm-unpick/internal/telemetry"
	"github.com/nwfth/rm-unpick/pkg/config"
	apperrors "github.com/nwfth/rm-unpick/pkg/errors"
)

// TokenSource supplies the current bearer credential, when one exists.
type TokenSource interface {
	Token() (string, bool)
}

// Client issues authenticated requests against the picking backend.
type Client struct {
	baseURL string
	client  *http.Client
	pinger  *http.Client
	tokens  TokenSource
	metrics *telemetry.Metrics
	log     *zap.Logger
}

// NewClient constructs a gateway with bounded timeouts taken from config.
func NewClient(cfg config.BackendConfig, tokens TokenSource, metrics *telemetry.Metrics, log *zap.Logger) *Client {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: requestTimeout},
		pinger:  &http.Client{Timeout: healthTimeout},
		tokens:  tokens,
		metrics: metrics,
		log:     log,
	}
}

type searchResponse struct {
	Success bool         `json:"success"`
	Data    []model.Line `json:"data"`
	Error   string       `json:"error"`
}

// removeRequest carries the composite keys plus a derived row_nums array so
// backends predating the composite-key revision keep working.
type removeRequest struct {
	RunNo     int         `json:"run_no"`
	Items     []model.Key `json:"items"`
	RowNums   []int       `json:"row_nums"`
	UserLogon string      `json:"user_logon"`
}

type removeResponse struct {
	Success       bool   `json:"success"`
	AffectedCount *int   `json:"affected_count"`
	Error         string `json:"error"`
	Details       string `json:"details"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool       `json:"success"`
	Token   string     `json:"token"`
	User    model.User `json:"user"`
	Error   string     `json:"error"`
}

// HealthStatus is the outcome of a backend reachability probe.
type HealthStatus struct {
	Reachable  bool
	StatusCode int
	Duration   time.Duration
}

// SearchRecords fetches all lines of the given run.
func (c *Client) SearchRecords(ctx context.Context, runNo int) ([]model.Line, error) {
	if runNo <= 0 {
		return nil, apperrors.ErrInvalidRunNo
	}

	url := fmt.Sprintf("%s/api/rm/search?runno=%d", c.baseURL, runNo)
	body, err := c.do(ctx, "search", http.MethodGet, url, nil, true)
	if err != nil {
		return nil, err
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindBackend, "malformed search response")
	}
	if !decoded.Success {
		return nil, backendFailure(decoded.Error, "", "search failed")
	}
	return decoded.Data, nil
}

// RemoveRecords asks the backend to delete the given composite keys and
// returns the backend-reported affected count. When the backend omits the
// count the request size is reported instead; this fallback is logged.
func (c *Client) RemoveRecords(ctx context.Context, runNo int, items []model.Key, userLogon string) (int, error) {
	if runNo <= 0 {
		return 0, apperrors.ErrInvalidRunNo
	}
	if len(items) == 0 {
		return 0, apperrors.ErrNoSelection
	}

	rowNums := make([]int, len(items))
	for i, item := range items {
		rowNums[i] = item.RowNum
	}
	payload, err := json.Marshal(removeRequest{
		RunNo:     runNo,
		Items:     items,
		RowNums:   rowNums,
		UserLogon: userLogon,
	})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindValidation, "encode remove request")
	}

	url := c.baseURL + "/api/rm/remove"
	body, err := c.do(ctx, "remove", http.MethodPost, url, payload, true)
	if err != nil {
		return 0, err
	}

	var decoded removeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindBackend, "malformed remove response")
	}
	if !decoded.Success {
		return 0, backendFailure(decoded.Error, decoded.Details, "remove operation failed")
	}
	if decoded.AffectedCount == nil {
		c.log.Warn("backend omitted affected_count, falling back to requested count",
			zap.Int("run_no", runNo), zap.Int("requested", len(items)))
		return len(items), nil
	}
	return *decoded.AffectedCount, nil
}

// Login authenticates the operator and returns the identity plus token.
func (c *Client) Login(ctx context.Context, username, password string) (model.User, string, error) {
	payload, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return model.User{}, "", apperrors.Wrap(err, apperrors.KindValidation, "encode login request")
	}

	url := c.baseURL + "/api/auth/login"
	body, err := c.do(ctx, "login", http.MethodPost, url, payload, false)
	if err != nil {
		return model.User{}, "", err
	}

	var decoded loginResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return model.User{}, "", apperrors.Wrap(err, apperrors.KindBackend, "malformed login response")
	}
	if !decoded.Success || decoded.Token == "" {
		return model.User{}, "", backendFailure(decoded.Error, "", "authentication failed")
	}
	user := decoded.User
	if user.Username == "" {
		user.Username = username
	}
	return user, decoded.Token, nil
}

// Health probes the backend with the short health timeout. Any 2xx means
// reachable; everything else classifies as a connectivity failure.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return HealthStatus{}, apperrors.Wrap(err, apperrors.KindConnectivity, "build health request")
	}

	start := time.Now()
	resp, err := c.pinger.Do(req)
	status := HealthStatus{Duration: time.Since(start)}
	if err != nil {
		c.observe("health", "connectivity", status.Duration)
		return status, apperrors.Wrap(err, apperrors.KindConnectivity, "backend unreachable")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	status.StatusCode = resp.StatusCode
	status.Reachable = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !status.Reachable {
		c.observe("health", "connectivity", status.Duration)
		return status, apperrors.New(apperrors.KindConnectivity,
			fmt.Sprintf("backend health check returned status %d", resp.StatusCode))
	}
	c.observe("health", "success", status.Duration)
	return status, nil
}

// do runs one request/response cycle and maps transport and authorization
// failures into the shared taxonomy. The returned body is only valid for
// responses the caller is expected to decode.
func (c *Client) do(ctx context.Context, operation, method, url string, payload []byte, authenticated bool) ([]byte, error) {
	var token string
	if authenticated {
		var ok bool
		if c.tokens == nil {
			return nil, apperrors.ErrNotAuthenticated
		}
		token, ok = c.tokens.Token()
		if !ok || token == "" {
			return nil, apperrors.ErrNotAuthenticated
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(operation, "connectivity", elapsed)
		return nil, apperrors.Wrap(err, apperrors.KindConnectivity,
			"unable to connect to server, please check your connection")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(operation, "connectivity", elapsed)
		return nil, apperrors.Wrap(err, apperrors.KindConnectivity, "read response body")
	}

	c.log.Debug("backend request",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", elapsed))

	switch {
	case resp.StatusCode == http.StatusUnauthorized && authenticated:
		c.observe(operation, "session_expired", elapsed)
		return nil, apperrors.ErrSessionExpired
	case resp.StatusCode >= 400:
		c.observe(operation, "backend", elapsed)
		var failure struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		_ = json.Unmarshal(body, &failure)
		fallback := fmt.Sprintf("%s failed (%d)", operation, resp.StatusCode)
		return nil, backendFailure(failure.Error, failure.Details, fallback)
	}

	c.observe(operation, "success", elapsed)
	return body, nil
}

func (c *Client) observe(operation, outcome string, elapsed time.Duration) {
	c.metrics.ObserveRequest(operation, outcome, elapsed)
}

func backendFailure(message, details, fallback string) *apperrors.Error {
	if message == "" {
		message = fallback
	}
	err := apperrors.New(apperrors.KindBackend, message)
	if details != "" {
		err = err.WithDetails(details)
	}
	return err
}
