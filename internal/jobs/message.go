package jobs

import (
	"context"
	"fmt"
	"strings"
)

// Producer computes message text at fire time.
type Producer interface {
	Produce(ctx context.Context) (string, error)
}

type ProducerFunc func(ctx context.Context) (string, error)

func (f ProducerFunc) Produce(ctx context.Context) (string, error) { return f(ctx) }

type SourceKind int

const (
	SourceStatic SourceKind = iota
	SourceComputed
)

// MessageSource is either a fixed text or a named Producer.
// Computed sources are resolved on every execution, never cached.
type MessageSource struct {
	kind     SourceKind
	text     string
	label    string
	producer Producer
}

func Static(text string) MessageSource {
	return MessageSource{kind: SourceStatic, text: text}
}

func Computed(label string, p Producer) MessageSource {
	if strings.TrimSpace(label) == "" {
		label = "producer"
	}
	return MessageSource{kind: SourceComputed, label: label, producer: p}
}

func (m MessageSource) Kind() SourceKind { return m.kind }

// Describe is the human-readable descriptor used by snapshots.
func (m MessageSource) Describe() string {
	if m.kind == SourceComputed {
		return "computed:" + m.label
	}
	return m.text
}

// Resolve returns the text to send. Producer failures wrap ErrContentUnavailable.
func (m MessageSource) Resolve(ctx context.Context) (string, error) {
	if m.kind == SourceStatic {
		return m.text, nil
	}
	if m.producer == nil {
		return "", fmt.Errorf("%w: %s has no producer", ErrContentUnavailable, m.label)
	}
	text, err := m.producer.Produce(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrContentUnavailable, m.label, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s returned empty text", ErrContentUnavailable, m.label)
	}
	return text, nil
}
