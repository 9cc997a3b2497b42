package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"talkie/encoder"
	"talkie/log"
)

type UploadErrorKind string

const (
	UploadNetwork        UploadErrorKind = "network"
	UploadServerRejected UploadErrorKind = "server_rejected"
	UploadUnknown        UploadErrorKind = "unknown"
)

type UploadError struct {
	Kind   UploadErrorKind
	Status int
	Detail string
	Err    error
}

func (e *UploadError) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("upload %s (%d): %s", e.Kind, e.Status, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("upload %s: %s", e.Kind, e.Detail)
	default:
		return fmt.Sprintf("upload %s", e.Kind)
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

// Upload sends one clip tagged with the caller's correlation id. It never
// retries.
func (c *Client) Upload(ctx context.Context, correlationID string, clip []byte, format string) (*Ack, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="recording.%s"`, format))
	h.Set("Content-Type", encoder.ContentType(format))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, &UploadError{Kind: UploadUnknown, Detail: err.Error(), Err: err}
	}
	if _, err := part.Write(clip); err != nil {
		return nil, &UploadError{Kind: UploadUnknown, Detail: err.Error(), Err: err}
	}
	writer.WriteField("correlation_id", correlationID)
	writer.Close()

	req, err := c.newRequest(ctx, http.MethodPost, c.Endpoint("/upload"), &body)
	if err != nil {
		return nil, &UploadError{Kind: UploadUnknown, Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, &UploadError{Kind: UploadServerRejected, Status: http.StatusUnauthorized, Detail: errorDetail(resp.Body), Err: err}
		}
		return nil, &UploadError{Kind: UploadNetwork, Detail: err.Error(), Err: err}
	}

	log.Upload(log.UploadMetrics{
		CorrelationID: correlationID,
		ClipKB:        float64(len(clip)) / 1024,
		Format:        format,
		TTFBMs:        float64(resp.Metrics.TTFB.Microseconds()) / 1000,
		TotalMs:       float64(resp.Metrics.Total.Microseconds()) / 1000,
		ConnReused:    resp.Metrics.ConnReused,
		Status:        resp.StatusCode,
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UploadError{Kind: UploadServerRejected, Status: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}

	var ack Ack
	if err := json.Unmarshal(resp.Body, &ack); err != nil {
		return nil, &UploadError{Kind: UploadUnknown, Status: resp.StatusCode, Detail: "unreadable response", Err: err}
	}
	if ack.CorrelationID == "" {
		ack.CorrelationID = correlationID
	}
	if ack.TTSError != "" {
		log.Warnf("upload %s: tts error: %s", correlationID, ack.TTSError)
	}
	return &ack, nil
}
