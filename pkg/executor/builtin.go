package executor

import (
	"net/http"

	"jobmail-hq/governor/pkg/config"
)

// RegisterBuiltins registers the built-in executors enabled by cfg. The
// mailbox executors are registered over mb, or over an HTTPMailbox when mb
// is nil and cfg.Mailbox has a URL; notify and webhook when their URL is
// configured.
func RegisterBuiltins(r *Registry, cfg config.ExecutorConfig, mb Mailbox, client *http.Client) error {
	if mb == nil && cfg.Mailbox.URL != "" {
		mb = NewHTTPMailbox(cfg.Mailbox.URL, cfg.Mailbox.Headers, client)
	}
	if mb != nil {
		if err := RegisterMailbox(r, mb); err != nil {
			return err
		}
	}
	if cfg.Notify.URL != "" {
		if err := r.Register(ActionNotify, NewWebhookExecutor(ActionNotify, cfg.Notify.URL, cfg.Notify.Headers, client)); err != nil {
			return err
		}
	}
	if cfg.Webhook.URL != "" {
		if err := r.Register(ActionWebhook, NewWebhookExecutor(ActionWebhook, cfg.Webhook.URL, cfg.Webhook.Headers, client)); err != nil {
			return err
		}
	}
	return nil
}
