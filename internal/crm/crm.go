// Package crm creates leads in a Salesforce-style CRM over its REST API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

const (
	// DefaultAPIVersion is the REST API version used for sobject calls.
	DefaultAPIVersion = "v59.0"
	// DefaultRequestTimeout bounds a single CRM HTTP request.
	DefaultRequestTimeout = 20 * time.Second
)

// ErrMissingInstanceURL is returned when no CRM instance URL is configured.
var ErrMissingInstanceURL = errors.New("crm instance URL must be provided")

// Opts holds configuration options for the CRM client.
type Opts struct {
	InstanceURL  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	APIVersion   string
	HTTPClient   *http.Client
}

// Option defines a configuration option for the CRM client.
type Option func(*Opts)

// WithInstanceURL sets the CRM base URL, e.g. https://example.my.salesforce.com.
func WithInstanceURL(u string) Option {
	return func(o *Opts) { o.InstanceURL = u }
}

// WithClientCredentials enables OAuth2 client-credentials auth against tokenURL.
func WithClientCredentials(tokenURL, clientID, clientSecret string) Option {
	return func(o *Opts) {
		o.TokenURL = tokenURL
		o.ClientID = clientID
		o.ClientSecret = clientSecret
	}
}

// WithAPIVersion overrides DefaultAPIVersion.
func WithAPIVersion(v string) Option {
	return func(o *Opts) { o.APIVersion = v }
}

// WithHTTPClient sets the base HTTP client used for token and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client creates Lead sobjects.
type Client struct {
	leadURL string
	http    *http.Client
}

// leadRecord is the sobject body for a Lead.
type leadRecord struct {
	FirstName      string `json:"FirstName"`
	LastName       string `json:"LastName"`
	Company        string `json:"Company"`
	Email          string `json:"Email"`
	Phone          string `json:"Phone"`
	Description    string `json:"Description"`
	WhatsAppNumber string `json:"WhatsApp_Number__c"`
}

type createResponse struct {
	ID      string        `json:"id"`
	Success bool          `json:"success"`
	Errors  []apiErrorMsg `json:"errors"`
}

type apiErrorMsg struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// NewClient creates a CRM client. Unset options fall back to CRM_INSTANCE_URL,
// CRM_TOKEN_URL, CRM_CLIENT_ID and CRM_CLIENT_SECRET. Without a token URL
// requests are sent unauthenticated.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{APIVersion: DefaultAPIVersion}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.InstanceURL == "" {
		cfg.InstanceURL = os.Getenv("CRM_INSTANCE_URL")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = os.Getenv("CRM_TOKEN_URL")
		cfg.ClientID = os.Getenv("CRM_CLIENT_ID")
		cfg.ClientSecret = os.Getenv("CRM_CLIENT_SECRET")
	}
	if cfg.InstanceURL == "" {
		return nil, ErrMissingInstanceURL
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: DefaultRequestTimeout}
	}
	httpClient := base
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	}
	slog.Debug("CRM client created", "instance", cfg.InstanceURL, "oauth", cfg.TokenURL != "", "apiVersion", cfg.APIVersion)

	return &Client{
		leadURL: strings.TrimRight(cfg.InstanceURL, "/") + "/services/data/" + cfg.APIVersion + "/sobjects/Lead",
		http:    httpClient,
	}, nil
}

// CreateLead posts lead and returns the created record id.
func (c *Client) CreateLead(ctx context.Context, lead models.Lead) (string, error) {
	payload, err := json.Marshal(leadRecord{
		FirstName:      lead.FirstName,
		LastName:       lead.LastName,
		Company:        lead.Company,
		Email:          lead.Email,
		Phone:          lead.Phone,
		Description:    lead.Description,
		WhatsAppNumber: lead.WhatsAppNumber,
	})
	if err != nil {
		return "", fmt.Errorf("encode lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.leadURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build lead request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("CRM.CreateLead: request failed", "error", err)
		return "", fmt.Errorf("create lead: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read lead response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErrs []apiErrorMsg
		if json.Unmarshal(body, &apiErrs) == nil && len(apiErrs) > 0 {
			return "", fmt.Errorf("create lead: status %d: %s: %s", resp.StatusCode, apiErrs[0].ErrorCode, apiErrs[0].Message)
		}
		return "", fmt.Errorf("create lead: status %d", resp.StatusCode)
	}

	var out createResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode lead response: %w", err)
	}
	if !out.Success || out.ID == "" {
		if len(out.Errors) > 0 {
			return "", fmt.Errorf("create lead rejected: %s", out.Errors[0].Message)
		}
		return "", fmt.Errorf("create lead rejected")
	}
	slog.Info("CRM.CreateLead: lead created", "leadID", out.ID, "whatsapp", lead.WhatsAppNumber)
	return out.ID, nil
}

// ErrMockCreateFailed is returned by MockClient while Fail is set.
var ErrMockCreateFailed = errors.New("mock crm create failed")

// MockClient records leads in memory.
type MockClient struct {
	mu    sync.Mutex
	Leads []models.Lead
	Fail  bool
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) CreateLead(ctx context.Context, lead models.Lead) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return "", ErrMockCreateFailed
	}
	m.Leads = append(m.Leads, lead)
	id := fmt.Sprintf("00QMOCK%08d", len(m.Leads))
	slog.Info("MockCRM.CreateLead", "leadID", id, "company", lead.Company)
	return id, nil
}
