// Package queue carries analysis work between the ingest API and workers over
// NATS JetStream, with a dead-letter stream for messages that cannot be handled.
package queue

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
)

// RoutingKeyKey is the metadata key holding the topic a message was first
// published to. It survives dead-lettering.
const RoutingKeyKey = "routing_key"

// ErrPoison marks a message that must go straight to the dead-letter topic
// without further retries.
var ErrPoison = errors.New("queue: poison message")

// WorkMessage asks a worker to analyze one stored upload.
type WorkMessage struct {
	SubmissionID string `json:"submission_id"`
	FilePath     string `json:"file_path"`
}

// NewMessage encodes w. The message UUID is the submission id, which makes
// republishing idempotent inside the broker's duplicate window.
func NewMessage(w WorkMessage, topic string) (*message.Message, error) {
	if w.SubmissionID == "" || w.FilePath == "" {
		return nil, errors.New("queue: submission_id and file_path are required")
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(w.SubmissionID, payload)
	msg.Metadata.Set(RoutingKeyKey, topic)
	return msg, nil
}

// Decode parses a work message. Malformed payloads wrap ErrPoison.
func Decode(msg *message.Message) (WorkMessage, error) {
	var w WorkMessage
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		return WorkMessage{}, fmt.Errorf("%w: decode %s: %v", ErrPoison, msg.UUID, err)
	}
	if w.SubmissionID == "" || w.FilePath == "" {
		return WorkMessage{}, fmt.Errorf("%w: %s missing submission_id or file_path", ErrPoison, msg.UUID)
	}
	return w, nil
}

// CompletedMessage tells downstream consumers (data fusion) that a
// submission's analysis is stored.
type CompletedMessage struct {
	SubmissionID string `json:"submission_id"`
}

// NewCompletedMessage encodes a completion notice. Its UUID is the submission
// id, so a redelivered completion is deduplicated by the broker.
func NewCompletedMessage(submissionID, topic string) (*message.Message, error) {
	if submissionID == "" {
		return nil, errors.New("queue: submission_id is required")
	}
	payload, err := json.Marshal(CompletedMessage{SubmissionID: submissionID})
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(submissionID, payload)
	msg.Metadata.Set(RoutingKeyKey, topic)
	msg.Metadata.Set(natsgo.MsgIdHdr, submissionID)
	return msg, nil
}
