package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/mailqueue/internal/config"
)

// New builds the sender selected by cfg.Driver, wrapped in Liquid rendering
// when cfg.RenderLiquid is set.
func New(ctx context.Context, cfg config.TransportConfig) (Sender, error) {
	var (
		s   Sender
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "log":
		s = NewLogSender()
	case "smtp":
		c := cfg.SMTP
		s = NewSMTPSender(c.Host, c.Port, c.Secure, c.User, c.Pass)
	case "ses":
		c := cfg.SES
		s, err = NewSESSender(ctx, c.Region, c.AccessKey, c.SecretKey)
	case "sparkpost":
		c := cfg.SparkPost
		s = NewSparkPostSender(c.APIKey, c.BaseURL, c.Timeout(), c.MaxRetries)
	default:
		return nil, fmt.Errorf("transport: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RenderLiquid {
		s = NewRenderingSender(s)
	}
	return s, nil
}
