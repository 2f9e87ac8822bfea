package capture

import (
	"time"

	"memorylane/internal/models"
)

// Facing selects the camera.
type Facing string

const (
	FacingFront Facing = "user"
	FacingBack  Facing = "environment"
)

// Other returns the opposite camera.
func (f Facing) Other() Facing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// Option is the finish action chosen in review.
type Option string

const (
	OptionPublishAndShare Option = "publish_and_share"
	OptionPublish         Option = "publish"
	OptionSaveDraft       Option = "save_draft"
)

// Status returns the memory status an option produces.
func (o Option) Status() string {
	if o == OptionSaveDraft {
		return models.StatusDraft
	}
	return models.StatusPublished
}

// Valid reports whether o is a known option.
func (o Option) Valid() bool {
	switch o {
	case OptionPublishAndShare, OptionPublish, OptionSaveDraft:
		return true
	}
	return false
}

// Phase names a state for logs and checks.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePrep       Phase = "prep"
	PhaseCountdown  Phase = "countdown"
	PhaseRecording  Phase = "recording"
	PhaseProcessing Phase = "processing"
	PhaseReview     Phase = "review"
	PhaseUploading  Phase = "uploading"
	PhaseComplete   Phase = "complete"
	PhaseClosed     Phase = "closed"
)

// State is one of Idle, Prep, Countdown, Recording, Processing, Review,
// Uploading, Complete or Closed.
type State interface {
	Phase() Phase
}

// Artifact is a finalized recording. A resumed draft carries Draft instead of Data.
type Artifact struct {
	Data     []byte
	MimeType string
	Duration time.Duration
	Draft    *models.Memory
}

type Idle struct{}

// Prep holds an acquired stream. Err reports the last device failure, in
// which case no stream is held.
type Prep struct {
	Facing Facing
	Err    error
}

type Countdown struct {
	Facing    Facing
	Remaining int
}

type Recording struct {
	Facing    Facing
	StartedAt time.Time
}

type Processing struct{}

// Review offers the artifact for a finish action. Err is the last failed finish.
type Review struct {
	Artifact *Artifact
	Err      error
}

type Uploading struct {
	Artifact *Artifact
	Option   Option
	Progress float64
}

type Complete struct {
	Memory models.Memory
	Option Option
}

// Share reports whether the UI should offer the share sheet.
func (c Complete) Share() bool {
	return c.Option == OptionPublishAndShare
}

type Closed struct{}

func (Idle) Phase() Phase       { return PhaseIdle }
func (Prep) Phase() Phase       { return PhasePrep }
func (Countdown) Phase() Phase  { return PhaseCountdown }
func (Recording) Phase() Phase  { return PhaseRecording }
func (Processing) Phase() Phase { return PhaseProcessing }
func (Review) Phase() Phase     { return PhaseReview }
func (Uploading) Phase() Phase  { return PhaseUploading }
func (Complete) Phase() Phase   { return PhaseComplete }
func (Closed) Phase() Phase     { return PhaseClosed }
