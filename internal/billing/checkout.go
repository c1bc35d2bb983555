package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnknownPlan    = errors.New("unknown or inactive plan")
	ErrCheckoutFailed = errors.New("checkout session could not be created")
	ErrCheckoutNoURL  = errors.New("checkout response had no url")
)

type CheckoutConfig struct {
	APIURL    string
	SecretKey string
	AppURL    string
}

// CheckoutClient creates hosted checkout sessions with Creem.
type CheckoutClient struct {
	cfg        CheckoutConfig
	catalog    *Catalog
	HTTPClient *http.Client
}

func NewCheckoutClient(cfg CheckoutConfig, catalog *Catalog) *CheckoutClient {
	return &CheckoutClient{cfg: cfg, catalog: catalog, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

type checkoutRequest struct {
	PriceID           string `json:"price_id"`
	CustomerEmail     string `json:"customer_email"`
	ClientReferenceID string `json:"client_reference_id"`
	SuccessURL        string `json:"success_url"`
	CancelURL         string `json:"cancel_url"`
}

// CreateSession returns the hosted checkout url for priceID. The price must
// be an active catalog plan.
func (c *CheckoutClient) CreateSession(ctx context.Context, priceID, email, accountID string) (string, error) {
	plan, ok := c.catalog.Plan(priceID)
	if !ok || !plan.Active {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, priceID)
	}
	appURL := strings.TrimRight(c.cfg.AppURL, "/")
	body, err := json.Marshal(checkoutRequest{
		PriceID:           priceID,
		CustomerEmail:     email,
		ClientReferenceID: accountID,
		SuccessURL:        appURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         appURL + "/payment/cancel",
	})
	if err != nil {
		return "", fmt.Errorf("marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.APIURL, "/")+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create checkout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrCheckoutFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCheckoutFailed, err)
	}
	if out.CheckoutURL == "" {
		return "", ErrCheckoutNoURL
	}
	return out.CheckoutURL, nil
}
