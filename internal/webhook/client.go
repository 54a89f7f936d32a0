package webhook

import (
	"net"
	"net/http"
	"time"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 30 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 10 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 15 * time.Second
)

// Header names sent with every delivery.
const (
	HeaderSignature  = "X-Roster-Signature"
	HeaderTimestamp  = "X-Roster-Timestamp"
	HeaderDeliveryID = "X-Roster-Delivery-Id"
	HeaderEventType  = "X-Roster-Event"

	userAgent = "Roster-Webhook/1.0"
)

// NewHTTPClient creates an HTTP client for webhook delivery. Redirects are
// never followed, so a validated target cannot bounce the request inward.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// deliveryHeaders are the per-attempt values of a signed request.
type deliveryHeaders struct {
	Signature  string
	Timestamp  string
	DeliveryID string
	EventType  string
}

func (h deliveryHeaders) apply(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, h.Signature)
	req.Header.Set(HeaderTimestamp, h.Timestamp)
	req.Header.Set(HeaderDeliveryID, h.DeliveryID)
	if h.EventType != "" {
		req.Header.Set(HeaderEventType, h.EventType)
	}
}
