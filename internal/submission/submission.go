// Package submission models crop image submissions and their processing
// lifecycle.
package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("submission: not found")
	ErrInvalidTransition = errors.New("submission: invalid status transition")
	ErrInvalidStatus     = errors.New("submission: unknown status")
	ErrInvalidStage      = errors.New("submission: unknown growth stage")
	ErrNotStale          = errors.New("submission: no longer stale")
)

// Status is the processing state of a submission.
type Status string

const (
	StatusReceived   Status = "RECEIVED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ParseStatus converts a stored value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusReceived, StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusReceived, StatusProcessing:
		return false
	}
	return false
}

// CanTransition reports whether moving from s to next is a forward step.
//
//	RECEIVED -> PROCESSING -> COMPLETED | FAILED
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusReceived:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	}
	return false
}

// GrowthStage is the crop phenological stage reported by the farmer.
type GrowthStage string

const (
	StageSowing     GrowthStage = "sowing"
	StageVegetative GrowthStage = "vegetative"
	StageFlowering  GrowthStage = "flowering"
	StageMaturity   GrowthStage = "maturity"
	StageHarvest    GrowthStage = "harvest"
)

// GrowthStages lists accepted stages in crop order.
func GrowthStages() []GrowthStage {
	return []GrowthStage{StageSowing, StageVegetative, StageFlowering, StageMaturity, StageHarvest}
}

// ParseGrowthStage validates raw against the known stages.
func ParseGrowthStage(raw string) (GrowthStage, error) {
	for _, g := range GrowthStages() {
		if string(g) == raw {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
}

// Submission is one uploaded image and its analysis state. AnalysisResult is
// set exactly when Status is terminal.
type Submission struct {
	ID               string
	UserID           string
	OriginalFilename string
	StoragePath      string
	Latitude         float64
	Longitude        float64
	GrowthStage      GrowthStage
	Status           Status
	AnalysisResult   json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FailureDetail is the analysis_result payload stored for FAILED submissions.
type FailureDetail struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CheckTransition validates a status change together with its payload.
func CheckTransition(from, to Status, result json.RawMessage) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to.Terminal() != (len(result) > 0) {
		return fmt.Errorf("%w: analysis result must be set only for terminal status", ErrInvalidTransition)
	}
	if len(result) > 0 && !json.Valid(result) {
		return fmt.Errorf("%w: analysis result is not valid JSON", ErrInvalidTransition)
	}
	return nil
}
