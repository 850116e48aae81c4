// Package notify turns call failures into short user-facing messages.
package notify

import (
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindNetwork Kind = "network"
	KindServer  Kind = "server"
	KindHTTP    Kind = "http"
	KindUnknown Kind = "unknown"
)

// Default message texts, used when the backend supplies no message.
const (
	NetworkText = "No connection. Check your network and try again."
	ServerText  = "Something went wrong on our side. Please try again later."
	UnknownText = "Something went wrong."
)

type Message struct {
	Kind Kind
	Text string
}

// Toaster displays a message. It is implemented by the UI layer.
type Toaster interface {
	Show(msg Message) error
}

// ToasterFunc adapts a function to a Toaster.
type ToasterFunc func(msg Message) error

func (f ToasterFunc) Show(msg Message) error {
	return f(msg)
}

type Notifier struct {
	toaster Toaster
	metrics *metrics.Metrics
}

type Option func(*Notifier)

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

func New(toaster Toaster, options ...Option) *Notifier {
	n := &Notifier{toaster: toaster}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Notify surfaces err to the user. It never panics and never fails; whether to
// notify at all is the caller's decision.
func (n *Notifier) Notify(err error) {
	if n == nil || n.toaster == nil || err == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("notify: toaster panicked")
		}
	}()

	msg := MessageFor(err)
	n.metrics.Notification(string(msg.Kind))
	if terr := n.toaster.Show(msg); terr != nil {
		log.Warn().Err(terr).Str("kind", string(msg.Kind)).Msg("notify: toaster failed")
	}
}

// MessageFor maps an error to the message shown for it.
func MessageFor(err error) Message {
	var netErr *autherrors.NetworkError
	if errors.As(err, &netErr) {
		return Message{Kind: KindNetwork, Text: NetworkText}
	}

	var statusErr *autherrors.StatusError
	if errors.As(err, &statusErr) {
		if errors.Is(statusErr, autherrors.ErrServer) {
			return Message{Kind: KindServer, Text: ServerText}
		}
		if statusErr.Message != "" {
			return Message{Kind: KindHTTP, Text: statusErr.Message}
		}
		return Message{Kind: KindHTTP, Text: fmt.Sprintf("Request failed (%d).", statusErr.StatusCode)}
	}

	return Message{Kind: KindUnknown, Text: UnknownText}
}
