// Package sentry reports server errors to Sentry and scrubs events so tokens
// and attendee details never leave the process.
package sentry

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are HTTP headers that should be redacted from Sentry events.
var sensitiveHeaders = map[string]bool{
	"authorization":    true,
	"cookie":           true,
	"set-cookie":       true,
	"x-real-ip":        true,
	"x-forwarded-for":  true,
	"cf-connecting-ip": true,
}

// sensitiveKeys are field names that may contain sensitive data in tags or breadcrumb metadata.
var sensitiveKeys = map[string]bool{
	"token":         true,
	"secret":        true,
	"jwt":           true,
	"authorization": true,
	"cookie":        true,
	"email":         true,
	"singer_name":   true,
	"group_members": true,
}

// Init configures the global Sentry client. It does nothing and reports
// false when dsn is empty.
func Init(dsn, environment string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:                   dsn,
		Environment:           environment,
		AttachStacktrace:      true,
		SendDefaultPII:        false,
		BeforeSend:            ScrubEvent,
		BeforeSendTransaction: ScrubTransaction,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// CaptureError reports err on the request's hub, or the global hub when the
// request carries none. Without a configured client this is a no-op.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
// It redacts sensitive headers, strips request bodies and query strings, and
// scrubs tags, extra data and breadcrumbs.
func ScrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[strings.ToLower(header)] {
				event.Request.Headers[header] = filtered
			}
		}
		// bodies carry singer names and group members
		event.Request.Data = ""
		event.Request.Cookies = ""
		if event.Request.QueryString != "" {
			event.Request.QueryString = filtered
		}
	}

	if event.User.Email != "" {
		event.User.Email = filtered
	}
	event.User.IPAddress = ""

	for key := range event.Tags {
		if sensitiveKeys[strings.ToLower(key)] {
			event.Tags[key] = filtered
		}
	}
	for key := range event.Extra {
		if sensitiveKeys[strings.ToLower(key)] {
			event.Extra[key] = filtered
		}
	}

	for i := range event.Breadcrumbs {
		for key := range event.Breadcrumbs[i].Data {
			if sensitiveKeys[strings.ToLower(key)] {
				event.Breadcrumbs[i].Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}
