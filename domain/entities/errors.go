package entities

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is attempted on a session
// that is not in an eligible state, e.g. starting a session before enough
// participants have joined.
var ErrInvalidState = errors.New("session is not in a valid state for this operation")

// ErrSubmissionInFlight is returned when a new submission is issued for a
// session while a previous one is still outstanding.
var ErrSubmissionInFlight = errors.New("a submission is already in flight for this session")

// IllegalTransitionError reports a phase transition request that violates the
// linear-order/revisit policy. It is always surfaced to the caller, never
// auto-corrected.
type IllegalTransitionError struct {
	From    Phase
	To      Phase
	Trigger TransitionTrigger
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition %s -> %s (trigger %s)", e.From, e.To, e.Trigger)
}

// MediationServiceError reports that the AI mediation backend was unreachable
// or errored after the retry budget was exhausted. The user's utterance stays
// recorded locally as sent-but-unanswered.
type MediationServiceError struct {
	Attempts int
	Err      error
}

func (e *MediationServiceError) Error() string {
	return fmt.Sprintf("mediation service failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MediationServiceError) Unwrap() error { return e.Err }

// AnalysisUnavailableError reports that the emotion scorer was unreachable.
// Non-fatal: the conversation continues without emotional context for that
// turn.
type AnalysisUnavailableError struct {
	Err error
}

func (e *AnalysisUnavailableError) Error() string {
	return fmt.Sprintf("emotion analysis unavailable: %v", e.Err)
}

func (e *AnalysisUnavailableError) Unwrap() error { return e.Err }

// VoiceProviderError reports an STT/TTS provider failure. Recovered locally
// by falling back to the mock provider; not surfaced as a hard failure so the
// interaction loop stays alive.
type VoiceProviderError struct {
	Provider string
	Err      error
}

func (e *VoiceProviderError) Error() string {
	return fmt.Sprintf("voice provider %s failed: %v", e.Provider, e.Err)
}

func (e *VoiceProviderError) Unwrap() error { return e.Err }

// PersistenceError reports a failed remote session/message/phase write.
// Local in-memory state is not rolled back; the store marks itself dirty and
// reconciles on the next fetch.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
