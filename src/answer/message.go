// Package answer pushes AI answers to every connected answer page.
package answer

import (
	"encoding/json"
)

const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	// StatusText marks a payload that was not a valid message; Content holds it verbatim.
	StatusText = "text"
)

// Message is the wire format on /ws.
type Message struct {
	Status  string `json:"status"`
	Content string `json:"content,omitempty"`
	// HTML is the sanitized rendering of Content for success messages.
	HTML string `json:"html,omitempty"`
}

// Processing announces that a new question is being analyzed.
func Processing() Message {
	return Message{Status: StatusProcessing}
}

// Success carries a Markdown answer together with its rendered HTML.
func Success(markdown string) Message {
	return Message{Status: StatusSuccess, Content: markdown, HTML: Render(markdown)}
}

// Encode returns the JSON form of m.
func (m Message) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// Decode parses a payload received on /ws. Anything that is not a JSON object
// with a status becomes a text message carrying the raw payload.
func Decode(raw []byte) Message {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil || m.Status == "" {
		return Message{Status: StatusText, Content: string(raw)}
	}
	return m
}

// Known reports whether the page acts on m. Other statuses are ignored.
func (m Message) Known() bool {
	switch m.Status {
	case StatusProcessing, StatusSuccess, StatusText:
		return true
	}
	return false
}
