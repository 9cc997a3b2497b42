package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"talkie/api"
)

const typeReply = "reply"

var errNoReply = errors.New("reply event without reply text or audio")

// Event is one reply pushed by the backend.
type Event struct {
	MessageID     api.MessageID
	CorrelationID string
	Reply         string
	ReplyAudio    string
	Timestamp     string
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type replyData struct {
	MessageID     api.MessageID `json:"message_id"`
	CorrelationID string        `json:"correlation_id"`
	Reply         string        `json:"reply"`
	ReplyAudio    string        `json:"reply_audio"`
	Timestamp     string        `json:"timestamp"`
}

// decodeFrame returns ok=false for well-formed frames of other types,
// which callers ignore.
func decodeFrame(frame []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, false, fmt.Errorf("envelope: %w", err)
	}
	if env.Type != typeReply {
		return Event{}, false, nil
	}

	var d replyData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return Event{}, false, fmt.Errorf("reply data: %w", err)
	}
	if d.Reply == "" && d.ReplyAudio == "" {
		return Event{}, false, errNoReply
	}
	return Event{
		MessageID:     d.MessageID,
		CorrelationID: d.CorrelationID,
		Reply:         d.Reply,
		ReplyAudio:    d.ReplyAudio,
		Timestamp:     d.Timestamp,
	}, true, nil
}
