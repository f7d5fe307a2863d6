package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/httpretry"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// SparkPostSender sends emails via the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
	log     *logger.Component
}

// NewSparkPostSender targets baseURL (for example
// https://api.sparkpost.com/api/v1). 5xx and 429 responses are retried
// in-call by the retry client before the job-level retry policy applies.
func NewSparkPostSender(apiKey, baseURL string, timeout time.Duration, maxRetries int) *SparkPostSender {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries),
		log:     logger.For("transport.sparkpost"),
	}
}

type spTransmission struct {
	Recipients []spRecipient     `json:"recipients"`
	Content    spContent         `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Options    *spOptions        `json:"options,omitempty"`
}

type spRecipient struct {
	Address spAddress `json:"address"`
}

type spAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type spContent struct {
	From    spAddress `json:"from"`
	Subject string    `json:"subject"`
	HTML    string    `json:"html,omitempty"`
	Text    string    `json:"text,omitempty"`
}

type spOptions struct {
	Transactional bool `json:"transactional"`
}

type spResponse struct {
	Results struct {
		ID                  string `json:"id"`
		TotalAcceptedRecips int    `json:"total_accepted_recipients"`
		TotalRejectedRecips int    `json:"total_rejected_recipients"`
	} `json:"results"`
	Errors []struct {
		Message     string `json:"message"`
		Description string `json:"description"`
		Code        string `json:"code"`
	} `json:"errors"`
}

// Send delivers a single email through SparkPost.
func (s *SparkPostSender) Send(ctx context.Context, msg *Message) (*domain.Receipt, error) {
	if s.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if err := validate(msg); err != nil {
		return nil, err
	}

	payload := spTransmission{
		Recipients: []spRecipient{{Address: spAddress{Email: msg.To}}},
		Content: spContent{
			From:    spAddress{Email: msg.From},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
		},
		Options: &spOptions{Transactional: true},
	}
	if msg.JobID != "" {
		payload.Metadata = map[string]string{"job_id": msg.JobID}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparkpost: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("sparkpost: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		s.log.Warn("send failed", "to", msg.To, "job_id", msg.JobID, "status", resp.StatusCode)
		if permanentStatus(resp.StatusCode) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	var out spResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("sparkpost: decode response: %w", err)
	}
	if out.Results.TotalRejectedRecips > 0 && out.Results.TotalAcceptedRecips == 0 {
		return nil, Permanentf("sparkpost: recipient rejected")
	}

	s.log.Debug("sent", "to", msg.To, "job_id", msg.JobID, "message_id", out.Results.ID)
	return &domain.Receipt{
		MessageID: out.Results.ID,
		Transport: "sparkpost",
		Accepted:  []string{msg.To},
		SentAt:    time.Now(),
	}, nil
}

// permanentStatus reports 4xx responses other than timeouts and rate limits.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout &&
		code != http.StatusTooManyRequests
}
