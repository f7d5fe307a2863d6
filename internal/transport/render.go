package transport

import (
	"context"
	"fmt"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/osteele/liquid"
)

// RenderingSender renders subject and bodies as Liquid templates before
// handing the message to the next sender. Templates see {{ email }} and
// {{ job_id }}.
type RenderingSender struct {
	next   Sender
	engine *liquid.Engine
}

// NewRenderingSender wraps next.
func NewRenderingSender(next Sender) *RenderingSender {
	engine := liquid.NewEngine()
	// Default value filter: {{ name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s, ok := value.(string); ok && s == "" {
			return defaultVal
		}
		return value
	})
	return &RenderingSender{next: next, engine: engine}
}

func (r *RenderingSender) Send(ctx context.Context, msg *Message) (*domain.Receipt, error) {
	rendered, err := r.Render(msg)
	if err != nil {
		return nil, err
	}
	return r.next.Send(ctx, rendered)
}

// Render returns a copy of msg with every template field rendered. A
// template that does not parse is a permanent error: retrying cannot fix it.
func (r *RenderingSender) Render(msg *Message) (*Message, error) {
	bindings := liquid.Bindings{
		"email":  msg.To,
		"job_id": msg.JobID,
	}
	out := *msg
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"subject", &out.Subject},
		{"html", &out.HTML},
		{"text", &out.Text},
	} {
		if *f.v == "" {
			continue
		}
		s, err := r.engine.ParseAndRenderString(*f.v, bindings)
		if err != nil {
			return nil, Permanent(fmt.Errorf("render %s: %w", f.name, err))
		}
		*f.v = s
	}
	return &out, nil
}
