package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"opsplane/pkg/api"
)

// OpsClient handles API calls to the opsplane controller.
type OpsClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewOpsClient creates a new client with the given base URL and token.
func NewOpsClient(baseURL, token string) *OpsClient {
	return &OpsClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request and decodes a 2xx body into out. It reports false when
// the server answered 204.
func (c *OpsClient) do(method, path string, body, out interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return false, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.StatusCode != http.StatusNoContent, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return true, nil
}

// errorMessage unwraps the controller's error envelope, falling back to the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func devicePath(d api.Device) string {
	return fmt.Sprintf("/devices/%s/%s", url.PathEscape(d.Type), url.PathEscape(d.ID))
}

// AddOperation sends POST /operations.
func (c *OpsClient) AddOperation(req api.AddOperationRequest) (*api.ActivityResponse, error) {
	var result api.ActivityResponse
	if _, err := c.do(http.MethodPost, "/operations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOperation sends GET /operations/{id}.
func (c *OpsClient) GetOperation(id int64) (*api.OperationResponse, error) {
	var result api.OperationResponse
	if _, err := c.do(http.MethodGet, fmt.Sprintf("/operations/%d", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetActivity sends GET /activities/{id}, optionally narrowed to one device.
func (c *OpsClient) GetActivity(activityID string, device *api.Device) (*api.ActivityResponse, error) {
	path := "/activities/" + url.PathEscape(activityID)
	if device != nil {
		q := url.Values{}
		q.Set("device_type", device.Type)
		q.Set("device_id", device.ID)
		path += "?" + q.Encode()
	}

	var result api.ActivityResponse
	if _, err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListActivities sends GET /activities with the given query.
func (c *OpsClient) ListActivities(query url.Values) (*api.ActivityListResponse, error) {
	var result api.ActivityListResponse
	if _, err := c.do(http.MethodGet, "/activities?"+query.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeviceHistory sends GET /devices/{type}/{id}/operations.
func (c *OpsClient) DeviceHistory(device api.Device, status string, limit, offset int) (*api.OperationListResponse, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	} else {
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
	}

	var result api.OperationListResponse
	if _, err := c.do(http.MethodGet, devicePath(device)+"/operations?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PendingOperations sends GET /devices/{type}/{id}/pending.
func (c *OpsClient) PendingOperations(device api.Device) ([]api.OperationResponse, error) {
	var result api.OperationListResponse
	if _, err := c.do(http.MethodGet, devicePath(device)+"/pending", nil, &result); err != nil {
		return nil, err
	}
	return result.Operations, nil
}

// NextOperation sends GET /devices/{type}/{id}/next. It returns nil when the
// device has nothing to do.
func (c *OpsClient) NextOperation(device api.Device, throttleMs int) (*api.OperationResponse, error) {
	path := devicePath(device) + "/next"
	if throttleMs > 0 {
		path += "?throttle_ms=" + strconv.Itoa(throttleMs)
	}

	var result api.OperationResponse
	found, err := c.do(http.MethodGet, path, nil, &result)
	if err != nil || !found {
		return nil, err
	}
	return &result, nil
}

// UpdateStatus sends PUT /devices/{type}/{id}/operations/{opid}.
func (c *OpsClient) UpdateStatus(device api.Device, operationID int64, req api.UpdateStatusRequest) error {
	_, err := c.do(http.MethodPut, fmt.Sprintf("%s/operations/%d", devicePath(device), operationID), req, nil)
	return err
}
