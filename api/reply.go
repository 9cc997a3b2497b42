package api

import (
	"context"
	"net/url"
)

// PollReply asks once whether the reply for an utterance is ready.
func (c *Client) PollReply(ctx context.Context, correlationID string, messageID MessageID) (*PollResult, error) {
	u := c.Endpoint("/reply")
	q := url.Values{}
	q.Set("correlation_id", correlationID)
	if messageID != "" {
		q.Set("message_id", string(messageID))
	}
	u.RawQuery = q.Encode()

	var res PollResult
	if err := c.getJSON(ctx, u, &res); err != nil {
		return nil, err
	}
	if res.Status == "" {
		res.Status = ReplyWaiting
		if res.Reply != "" {
			res.Status = ReplyReady
		}
	}
	return &res, nil
}

// History returns the user's utterances, newest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var res struct {
		Messages []HistoryEntry `json:"messages"`
	}
	if err := c.getJSON(ctx, c.Endpoint("/history"), &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}
