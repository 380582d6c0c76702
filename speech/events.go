package speech

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

type EventType string

// Server events the transcriber reacts to. Anything else decodes into a
// RawParam.
const (
	EventTypeError                  EventType = "error"
	EventTypeSessionCreated         EventType = "session.created"
	EventTypeSessionUpdated         EventType = "session.updated"
	EventTypeSpeechStarted          EventType = "input_audio_buffer.speech_started"
	EventTypeSpeechStopped          EventType = "input_audio_buffer.speech_stopped"
	EventTypeTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	EventTypeTranscriptionDelta     EventType = "conversation.item.input_audio_transcription.delta"
	EventTypeTranscriptionFailed    EventType = "conversation.item.input_audio_transcription.failed"
)

type Event struct {
	EventId string
	Type    EventType
	Param   EventParam
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	resp := map[string]any{}
	if e.Param != nil {
		for k, v := range e.Param.Json() {
			resp[k] = v
		}
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	} else {
		return errors.New("missing event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = EventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case EventTypeError:
		e.Param = new(ErrorParam)
	case EventTypeSessionCreated, EventTypeSessionUpdated:
		e.Param = new(SessionParam)
	case EventTypeSpeechStarted, EventTypeSpeechStopped:
		e.Param = new(SpeechMarkerParam)
	case EventTypeTranscriptionCompleted:
		e.Param = new(TranscriptionCompletedParam)
	case EventTypeTranscriptionDelta:
		e.Param = new(TranscriptionDeltaParam)
	case EventTypeTranscriptionFailed:
		e.Param = new(TranscriptionFailedParam)
	default:
		e.Param = new(RawParam)
	}
	if err := e.Param.New(raw); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

type ErrorParam struct {
	Type    string
	Code    string
	Message string
	EventId string
}

func (p *ErrorParam) New(m map[string]any) error {
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		return errors.New("missing error")
	}
	if v, ok := errObj["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing error.message")
	}
	p.Type, _ = errObj["type"].(string)
	p.Code, _ = errObj["code"].(string)
	p.EventId, _ = errObj["event_id"].(string)
	return nil
}

func (p *ErrorParam) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":     p.Type,
			"code":     p.Code,
			"message":  p.Message,
			"event_id": p.EventId,
		},
	}
}

func (p *ErrorParam) Error() string {
	if p.Code == "" {
		return p.Message
	}
	return p.Code + ": " + p.Message
}

// session.created, session.updated
type SessionParam struct {
	Session map[string]any
}

func (p *SessionParam) New(m map[string]any) error {
	session, ok := m["session"].(map[string]any)
	if !ok {
		return errors.New("missing session")
	}
	p.Session = session
	return nil
}

func (p *SessionParam) Json() map[string]any {
	return map[string]any{"session": p.Session}
}

// input_audio_buffer.speech_started, input_audio_buffer.speech_stopped
type SpeechMarkerParam struct {
	ItemId  string
	AudioMs int
}

func (p *SpeechMarkerParam) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioMs = v
	} else if v, ok := asInt(m["audio_end_ms"]); ok {
		p.AudioMs = v
	}
	return nil
}

func (p *SpeechMarkerParam) Json() map[string]any {
	return map[string]any{"item_id": p.ItemId, "audio_ms": p.AudioMs}
}

type TranscriptionCompletedParam struct {
	ItemId       string
	ContentIndex int
	Transcript   string
}

func (p *TranscriptionCompletedParam) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	p.ContentIndex, _ = asInt(m["content_index"])
	if v, ok := m["transcript"].(string); ok {
		p.Transcript = v
	} else {
		return errors.New("missing transcript")
	}
	return nil
}

func (p *TranscriptionCompletedParam) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"transcript":    p.Transcript,
	}
}

type TranscriptionDeltaParam struct {
	ItemId       string
	ContentIndex int
	Delta        string
}

func (p *TranscriptionDeltaParam) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	p.ContentIndex, _ = asInt(m["content_index"])
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

func (p *TranscriptionDeltaParam) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

type TranscriptionFailedParam struct {
	ItemId  string
	Message string
}

func (p *TranscriptionFailedParam) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if errObj, ok := m["error"].(map[string]any); ok {
		p.Message, _ = errObj["message"].(string)
	}
	return nil
}

func (p *TranscriptionFailedParam) Json() map[string]any {
	return map[string]any{
		"item_id": p.ItemId,
		"error":   map[string]any{"message": p.Message},
	}
}

// RawParam keeps the payload of events without a dedicated decoder.
type RawParam struct {
	Fields map[string]any
}

func (p *RawParam) New(m map[string]any) error {
	p.Fields = m
	return nil
}

func (p *RawParam) Json() map[string]any {
	return p.Fields
}
