package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultGatewayTimeout = 10 * time.Second

type mailRequest struct {
	To         string `json:"to"`
	TemplateID string `json:"templateId"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
	OpenURL    string `json:"openUrl"`
	ClickURL   string `json:"clickUrl"`
}

// WebhookMailGateway delivers simulated phishing mail through an HTTP
// mail-gateway endpoint.
type WebhookMailGateway struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookMailGateway(endpoint string) (*WebhookMailGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewWebhookMailGatewayWithClient(endpoint, client)
}

func NewWebhookMailGatewayWithClient(endpoint string, client *resty.Client) (*WebhookMailGateway, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookMailGateway{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (g *WebhookMailGateway) Send(ctx context.Context, d Dispatch) (*Result, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch: %w", err)
	}

	reqBody := mailRequest{
		To:         d.TargetEmail,
		TemplateID: d.TemplateID,
		Subject:    d.Subject,
		Content:    d.Content,
		OpenURL:    d.TrackingOpenURL,
		ClickURL:   d.TrackingClickURL,
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(g.endpoint)
	if err != nil {
		return nil, &GatewayError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &GatewayError{
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			StatusCode:        statusCode,
			Body:              responseBody,
			ProviderMessageID: providerMessageID(response),
		}, nil
	}

	return nil, &GatewayError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
