package workflow

import (
	"caption-bot/api/internal/caption"
)

type Phase int

const (
	Idle Phase = iota
	Validating
	Generating
	Captioned
	Rated
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Generating:
		return "generating"
	case Captioned:
		return "captioned"
	case Rated:
		return "rated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of the workflow. Which payload fields are set depends on Phase:
//
//	Idle        Notice (rejection copy, may be empty)
//	Validating  -
//	Generating  Candidate
//	Captioned   Result
//	Rated       Result, Rating; Err and Notice if the submission failed
//	Failed      Candidate, Err
type State struct {
	Phase      Phase
	Generation uint64

	Candidate *caption.ImageCandidate
	Result    *caption.CaptionResult
	Rating    *caption.RatingSubmission
	Err       error
	Notice    string
}

// CanRate is true while a caption is shown and not yet rated.
func (s State) CanRate() bool { return s.Phase == Captioned && s.Result != nil }

// CanRetry is true after a failed generation that still holds its candidate.
func (s State) CanRetry() bool { return s.Phase == Failed && s.Candidate != nil }
