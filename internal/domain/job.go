package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// GenerateRequest asks for a set of named transforms to be produced ahead of
// time for images in one volume.
type GenerateRequest struct {
	Volume     string   `json:"volume"`
	Paths      []string `json:"paths"`
	Transforms []string `json:"transforms,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

type GenerateJob struct {
	ID         string
	Status     string
	Volume     string
	Paths      []string
	Transforms []string
	WebhookURL string
	Generated  int
	Failed     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type GenerateOutput struct {
	Path      string            `json:"path"`
	Transform string            `json:"transform"`
	Image     *TransformedImage `json:"image,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Volume) == "" {
		return errors.New("volume is required")
	}
	if len(r.Paths) == 0 {
		return errors.New("paths must contain at least one image path")
	}
	for i, p := range r.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("paths[%d] is empty", i)
		}
	}
	for i, t := range r.Transforms {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("transforms[%d] is empty", i)
		}
	}
	return nil
}
