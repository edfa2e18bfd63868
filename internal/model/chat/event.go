package chat

import (
	"encoding/json"
	"fmt"
)

// EventKind tells which shape a remote event was decoded into.
type EventKind int

const (
	// EventStructured carries typed content parts.
	EventStructured EventKind = iota + 1
	// EventRawMapping carries the untyped JSON object as received.
	EventRawMapping
)

// Part is one content part of a structured event. Text is nil for
// non-text parts such as function calls.
type Part struct {
	Text *string `json:"text,omitempty"`
}

// Content mirrors the remote `content` object.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Event is a single streamed response event from the remote agent.
type Event struct {
	Kind  EventKind
	Parts []Part
	Raw   map[string]any
}

// StructuredEvent builds a typed event from parts.
func StructuredEvent(parts ...Part) Event {
	return Event{Kind: EventStructured, Parts: parts}
}

// TextEvent builds a typed event with one text part per fragment.
func TextEvent(texts ...string) Event {
	parts := make([]Part, 0, len(texts))
	for i := range texts {
		text := texts[i]
		parts = append(parts, Part{Text: &text})
	}
	return StructuredEvent(parts...)
}

// RawEvent wraps an untyped mapping.
func RawEvent(raw map[string]any) Event {
	return Event{Kind: EventRawMapping, Raw: raw}
}

// Fragments returns the text fragments of the event in order. Parts that
// do not carry text are skipped.
func (e Event) Fragments() []string {
	switch e.Kind {
	case EventStructured:
		fragments := make([]string, 0, len(e.Parts))
		for _, part := range e.Parts {
			if part.Text != nil {
				fragments = append(fragments, *part.Text)
			}
		}
		return fragments
	case EventRawMapping:
		return rawFragments(e.Raw)
	default:
		return nil
	}
}

func rawFragments(raw map[string]any) []string {
	content, ok := raw["content"].(map[string]any)
	if !ok {
		return nil
	}
	parts, ok := content["parts"].([]any)
	if !ok {
		return nil
	}

	fragments := make([]string, 0, len(parts))
	for _, item := range parts {
		part, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			fragments = append(fragments, text)
		}
	}
	return fragments
}

// DecodeEvent resolves a JSON event into the typed shape when it fits and
// falls back to the raw mapping otherwise. Well-formed JSON that is not an
// object decodes to an event without fragments; only malformed input fails.
func DecodeEvent(data []byte) (Event, error) {
	var typed struct {
		Content *Content `json:"content"`
	}
	if err := json.Unmarshal(data, &typed); err == nil && typed.Content != nil {
		return StructuredEvent(typed.Content.Parts...), nil
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	raw, _ := value.(map[string]any)
	return RawEvent(raw), nil
}
