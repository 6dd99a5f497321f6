package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// identityHeaders are set by the gateway only; client values are dropped
var identityHeaders = []string{"X-User-ID", "X-User-Email", "X-User-Role", "X-Tenant-ID", "X-Shelter-ID"}

// ServiceClient handles HTTP communication with one upstream service
type ServiceClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *utils.CircuitBreaker
	log        logrus.FieldLogger
}

// ServiceClients holds all service clients
type ServiceClients struct {
	AuthService      *ServiceClient
	TenantService    *ServiceClient
	DonationService  *ServiceClient
	AnalyticsService *ServiceClient
	ChatbotService   *ServiceClient
	Frontend         *ServiceClient
}

// NewServiceClient creates a new service client. A nil breaker sends every
// request.
func NewServiceClient(name, baseURL string, breaker *utils.CircuitBreaker, log logrus.FieldLogger) *ServiceClient {
	return &ServiceClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: breaker,
		log:     log.WithField("upstream", name),
	}
}

// ProxyRequest proxies the request to the upstream service, replacing any
// identity headers with the verified caller's
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	if sc.baseURL == "" {
		utils.ServiceUnavailableResponse(c, fmt.Sprintf("%s is not configured", sc.name))
		return
	}

	// Build target URL
	targetURL := sc.baseURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var body io.Reader
	if c.Request.Body != nil {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.BadRequestResponse(c, "Failed to read request body")
			return
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to create request")
		return
	}

	for key, values := range c.Request.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	for _, h := range identityHeaders {
		req.Header.Del(h)
	}
	if id, err := middleware.IdentityFromContext(c); err == nil {
		req.Header.Set("X-User-ID", id.ID)
		req.Header.Set("X-User-Role", string(id.Role))
		if id.Email != "" {
			req.Header.Set("X-User-Email", id.Email)
		}
		if id.TenantID != "" {
			req.Header.Set("X-Tenant-ID", id.TenantID)
		}
		if id.ShelterID != "" {
			req.Header.Set("X-Shelter-ID", id.ShelterID)
		}
	}

	var (
		resp         *http.Response
		responseBody []byte
	)
	err = sc.call(func() error {
		var err error
		resp, err = sc.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s returned status %d", sc.name, resp.StatusCode)
		}
		return nil
	})
	switch {
	case utils.IsOpen(err):
		utils.ServiceUnavailableResponse(c, fmt.Sprintf("%s is unavailable", sc.name))
		return
	case err != nil && responseBody == nil:
		sc.log.WithError(err).WithField("path", c.Request.URL.Path).Warn("Upstream request failed")
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to communicate with service")
		return
	}

	for key, values := range resp.Header {
		for _, value := range values {
			c.Header(key, value)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
}

func (sc *ServiceClient) call(fn func() error) error {
	if sc.breaker == nil {
		return fn()
	}
	return sc.breaker.Call(fn)
}

// HealthCheck checks if a service is healthy
func (sc *ServiceClient) HealthCheck(ctx context.Context) error {
	if sc.baseURL == "" {
		return fmt.Errorf("not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}
	return nil
}

// ServiceStatus is the health of one upstream
type ServiceStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Breaker string `json:"breaker,omitempty"`
}

// GetServiceStatus checks every upstream concurrently
func (scs *ServiceClients) GetServiceStatus(ctx context.Context) map[string]ServiceStatus {
	clients := scs.all()
	results := make([]ServiceStatus, len(clients))

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range clients {
		i, client := i, client
		g.Go(func() error {
			status := ServiceStatus{Healthy: true}
			if err := client.HealthCheck(gctx); err != nil {
				status = ServiceStatus{Healthy: false, Error: err.Error()}
			}
			if client.breaker != nil {
				status.Breaker = string(client.breaker.GetState())
			}
			results[i] = status
			return nil
		})
	}
	_ = g.Wait()

	status := make(map[string]ServiceStatus, len(clients))
	for i, client := range clients {
		status[client.name] = results[i]
	}
	return status
}

func (scs *ServiceClients) all() []*ServiceClient {
	var out []*ServiceClient
	for _, c := range []*ServiceClient{scs.AuthService, scs.TenantService, scs.DonationService, scs.AnalyticsService, scs.ChatbotService} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
