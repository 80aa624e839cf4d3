// Package http serves the server-rendered administration UI.
//
// This file implements the builder for HTMX responses: HX-Trigger events,
// notification banners and consistent error bodies.

package http

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// Banner durations in milliseconds; zero keeps the banner until dismissed.
const (
	SuccessBannerDuration = 5000
	ErrorBannerDuration   = 0
)

// Client-side events fired through HX-Trigger.
const (
	EventNotification = "show-notification"
	EventFormReset    = "form:reset" // sent as HX-Trigger-After-Swap
	EventJobsRefresh  = "jobs:refresh"
)

// HTMXResponseBuilder provides a fluent API for building HTMX responses.
type HTMXResponseBuilder struct {
	triggers   map[string]any
	statusCode int
	body       []byte
	headers    map[string]string
}

// NewHTMXResponse creates a new response builder with default 200 status.
func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		triggers:   make(map[string]any),
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.statusCode = code
	return b
}

// Trigger adds a named event with optional data to the HX-Trigger header.
func (b *HTMXResponseBuilder) Trigger(name string, data any) *HTMXResponseBuilder {
	b.triggers[name] = data
	return b
}

func (b *HTMXResponseBuilder) TriggerJobsRefresh() *HTMXResponseBuilder {
	return b.Trigger(EventJobsRefresh, struct{}{})
}

// NotificationType represents the type of notification to display.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
)

// Banner is a message shown above the current screen. Items render as an
// itemized list below the message, e.g. one line per failed validation rule.
type Banner struct {
	Type     NotificationType `json:"type"`
	Message  string           `json:"message"`
	Items    []string         `json:"items,omitempty"`
	Duration int              `json:"duration"`
}

func SuccessBanner(message string) *Banner {
	return &Banner{Type: NotificationSuccess, Message: message, Duration: SuccessBannerDuration}
}

func ErrorBanner(message string, items ...string) *Banner {
	return &Banner{Type: NotificationError, Message: message, Items: items, Duration: ErrorBannerDuration}
}

func InfoBanner(message string) *Banner {
	return &Banner{Type: NotificationInfo, Message: message, Duration: SuccessBannerDuration}
}

// Persistent reports whether the banner stays until the user closes it.
func (b Banner) Persistent() bool {
	return b.Duration == 0
}

// TriggerBanner adds a show-notification event for b; nil is ignored.
func (b *HTMXResponseBuilder) TriggerBanner(banner *Banner) *HTMXResponseBuilder {
	if banner == nil {
		return b
	}
	return b.Trigger(EventNotification, banner)
}

func (b *HTMXResponseBuilder) TriggerSuccessNotification(message string) *HTMXResponseBuilder {
	return b.TriggerBanner(SuccessBanner(message))
}

func (b *HTMXResponseBuilder) TriggerErrorNotification(message string, items ...string) *HTMXResponseBuilder {
	return b.TriggerBanner(ErrorBanner(message, items...))
}

// NoSwap tells htmx to leave the target untouched.
func (b *HTMXResponseBuilder) NoSwap() *HTMXResponseBuilder {
	return b.Header("HX-Reswap", "none")
}

func (b *HTMXResponseBuilder) Header(name, value string) *HTMXResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *HTMXResponseBuilder) Body(content []byte) *HTMXResponseBuilder {
	b.body = content
	return b
}

// BodyHTML sets the response body as HTML content.
func (b *HTMXResponseBuilder) BodyHTML(html []byte) *HTMXResponseBuilder {
	b.headers["Content-Type"] = "text/html; charset=utf-8"
	b.body = html
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if len(b.triggers) > 0 {
		if triggerJSON, err := json.Marshal(b.triggers); err == nil {
			w.Header().Set("HX-Trigger", string(triggerJSON))
		}
	}
	w.WriteHeader(b.statusCode)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse creates an error response with an escaped HTML body.
func ErrorResponse(statusCode int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(statusCode).
		BodyHTML([]byte(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`))
}

func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}
