package internal

import "github.com/omniflow-labs/omniflow/internal/dispatch"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	responder dispatch.Responder
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithResponder sets the responder used for free-form tool_call_handler
// messages. Without one, only structured tool calls are accepted.
func WithResponder(r dispatch.Responder) Option {
	return func(a *application) {
		a.responder = r
	}
}
