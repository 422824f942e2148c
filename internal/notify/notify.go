// Package notify carries user-visible notifications out of the costing workflow.
package notify

import (
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Variant classifies a notification for display.
type Variant string

const (
	Success Variant = "success"
	Error   Variant = "error"
	Warning Variant = "warning"
	Info    Variant = "info"
)

// Notification is one toast shown to the operator.
type Notification struct {
	Variant Variant `json:"type"`
	Title   string  `json:"title"`
	Message string  `json:"message"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// Logger writes notifications to a zap logger.
type Logger struct {
	log *zap.Logger
}

// NewLogger returns a Logger notifier; a nil logger falls back to zap.L().
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.L()
	}
	return &Logger{log: log}
}

// Notify logs n at a level matching its variant.
func (l *Logger) Notify(n Notification) {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("message", n.Message)}
	switch n.Variant {
	case Error:
		l.log.Error("notification", fields...)
	case Warning:
		l.log.Warn("notification", fields...)
	default:
		l.log.Info("notification", fields...)
	}
}

// Recorder keeps notifications until they are drained.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	next  Notifier
}

// NewRecorder returns a Recorder that also forwards to next when it is non-nil.
func NewRecorder(next Notifier) *Recorder {
	return &Recorder{next: next}
}

// Notify stores n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Notify(n)
	}
}

// Drain returns and clears the stored notifications.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify forwards n to every notifier.
func (m Multi) Notify(n Notification) {
	for _, x := range m {
		x.Notify(n)
	}
}

// HXTrigger encodes n as the HX-Trigger header value understood by the UI toast handler.
func HXTrigger(n Notification) (string, error) {
	data, err := json.Marshal(map[string]any{
		"showToast": map[string]string{
			"title":   n.Title,
			"message": n.Message,
			"type":    string(n.Variant),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "notify: marshal HX-Trigger")
	}
	return string(data), nil
}
