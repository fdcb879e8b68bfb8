package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// TicketNotifier sends replies through the ticket platform's message
// endpoint: POST {baseURL}/{ticketID} with a JSON body and an
// integration token in the Authorization header.
type TicketNotifier struct {
	baseURL       string
	authorization string
	client        *http.Client
}

// TicketOpts holds configuration options for the ticket notifier.
type TicketOpts struct {
	BaseURL       string
	Authorization string
	Client        *http.Client
}

// TicketOption defines a configuration option for the ticket notifier.
type TicketOption func(*TicketOpts)

// WithBaseURL sets the message endpoint base URL.
func WithBaseURL(url string) TicketOption {
	return func(o *TicketOpts) { o.BaseURL = url }
}

// WithAuthorization sets the integration token sent on every request.
func WithAuthorization(token string) TicketOption {
	return func(o *TicketOpts) { o.Authorization = token }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) TicketOption {
	return func(o *TicketOpts) { o.Client = client }
}

// NewTicketNotifier creates a TicketNotifier. BaseURL and Authorization
// are required.
func NewTicketNotifier(opts ...TicketOption) (*TicketNotifier, error) {
	var cfg TicketOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ticket notifier base URL must be provided")
	}
	if cfg.Authorization == "" {
		return nil, fmt.Errorf("ticket notifier authorization token must be provided")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultSendTimeout}
	}

	return &TicketNotifier{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		authorization: cfg.Authorization,
		client:        cfg.Client,
	}, nil
}

type ticketMessagePayload struct {
	Body string `json:"body"`
}

// Send posts the message to the destination's ticket. Any non-2xx status
// is an error; the response body is included truncated for diagnosis.
func (n *TicketNotifier) Send(ctx context.Context, dest Destination, body string) error {
	if dest.TicketID == 0 {
		return fmt.Errorf("ticket notifier requires a ticket id")
	}

	payload, err := json.Marshal(ticketMessagePayload{Body: body})
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%d", n.baseURL, dest.TicketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create message request: %w", err)
	}
	req.Header.Set("Authorization", n.authorization)
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("TicketNotifier sending message", "ticketID", dest.TicketID, "bytes", len(payload))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message to ticket %d: %w", dest.TicketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ticket API returned status %d for ticket %d: %s", resp.StatusCode, dest.TicketID, strings.TrimSpace(string(detail)))
	}

	slog.Info("TicketNotifier message sent", "ticketID", dest.TicketID, "status", resp.StatusCode)
	return nil
}
