package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeGenerate = "transform:generate"

// GeneratePayload asks the worker to produce Transforms (preset handles) for
// every path in Volume. An empty Transforms list means the volume's
// configured generate presets.
type GeneratePayload struct {
	JobID       string    `json:"job_id"`
	Volume      string    `json:"volume"`
	Paths       []string  `json:"paths"`
	Transforms  []string  `json:"transforms,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewGenerateTask(payload GeneratePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerate, body), nil
}

func ParseGeneratePayload(task *asynq.Task) (GeneratePayload, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeneratePayload{}, fmt.Errorf("unmarshal generate payload: %w", err)
	}
	if payload.JobID == "" {
		return GeneratePayload{}, fmt.Errorf("generate payload is missing job_id")
	}
	return payload, nil
}
