package email

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/ignite/mailqueue/internal/domain"
)

// ValidateBulk checks a bulk request before anything is queued.
func ValidateBulk(req *domain.BulkRequest) error {
	if req == nil || len(req.Recipients) == 0 {
		return invalid("recipients must not be empty")
	}
	for i, r := range req.Recipients {
		if err := validateAddress(r); err != nil {
			return invalid("recipients[%d]: %v", i, err)
		}
	}
	return validateContent(req.Subject, req.HTML, req.Text, req.From)
}

// ValidatePayload checks a single email.
func ValidatePayload(p *domain.EmailPayload) error {
	if p == nil {
		return invalid("payload is required")
	}
	if strings.TrimSpace(p.To) == "" {
		return invalid("to is required")
	}
	if err := validateAddress(p.To); err != nil {
		return invalid("to: %v", err)
	}
	return validateContent(p.Subject, p.HTML, p.Text, p.From)
}

func validateContent(subject, html, text, from string) error {
	if strings.TrimSpace(subject) == "" {
		return invalid("subject is required")
	}
	if html == "" && text == "" {
		return invalid("html or text is required")
	}
	if from != "" {
		if _, err := mail.ParseAddress(from); err != nil {
			return invalid("from: %v", err)
		}
	}
	return nil
}

func validateAddress(addr string) error {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		return err
	}
	if !strings.Contains(a.Address, "@") {
		return fmt.Errorf("%q has no domain", addr)
	}
	return nil
}
