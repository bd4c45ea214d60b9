package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CertificateRequest is forwarded verbatim to the external certificate
// service, which renders and emails the certificate itself.
type CertificateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Score    int    `json:"score"`
	Total    int    `json:"total"`
	QuizName string `json:"quizName,omitempty"`
	Date     string `json:"date,omitempty"`
}

// CertificateClient proxies certificate sends to the rendering/email
// service. It reports the collaborator's outcome back to the caller and
// nothing else; certificate failures never touch attempt or score state.
type CertificateClient struct {
	url    string
	client *http.Client
}

func NewCertificateClient(url string, timeout time.Duration) *CertificateClient {
	return &CertificateClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a certificate service endpoint is set.
func (c *CertificateClient) Configured() bool {
	return c.url != ""
}

func (c *CertificateClient) Send(ctx context.Context, req CertificateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("certificate service: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("certificate service returned %d", resp.StatusCode)
	}
	return nil
}
