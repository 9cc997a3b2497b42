package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageID is the server-assigned message identifier. The backend emits it
// as a JSON number, older builds as a string; both decode.
type MessageID string

func (id *MessageID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Ack is the backend's answer to an upload: what it heard, and the id it
// filed the utterance under.
type Ack struct {
	Text          string    `json:"text"`
	MessageID     MessageID `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	ReplyAudio    string    `json:"reply_audio,omitempty"`
	TTSError      string    `json:"tts_error,omitempty"`
}

const (
	ReplyWaiting = "waiting"
	ReplyReady   = "ready"
)

type PollResult struct {
	Status     string    `json:"status"`
	MessageID  MessageID `json:"message_id,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	ReplyAudio string    `json:"reply_audio,omitempty"`
}

const (
	StatusSent    = "sent"
	StatusReplied = "replied"
	StatusTimeout = "timeout"
)

type HistoryEntry struct {
	ID         MessageID  `json:"id"`
	Text       string     `json:"text"`
	Reply      string     `json:"reply"`
	ReplyAudio string     `json:"reply_audio"`
	Status     string     `json:"status"`
	SentAt     time.Time  `json:"sent_at"`
	RepliedAt  *time.Time `json:"replied_at"`
}

func (e HistoryEntry) Answered() bool {
	return e.Reply != ""
}

// Failed reports an utterance the backend gave up on.
func (e HistoryEntry) Failed() bool {
	return e.Reply == "" && e.Status == StatusTimeout
}

type User struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
