package message

import (
	"fmt"
	"time"

	"github.com/simbuilder/servicebus/errors"
)

// Progress is the typed view of a progress-update message. It travels inside
// a TypeProgressUpdate envelope payload so that generic subscribers can still
// decode it as a plain Envelope.
//
// Percentage is a pointer: nil signals an error or non-quantifiable state and
// is distinct from 0.0.
type Progress struct {
	Operation           string
	Percentage          *float64
	Step                string
	CurrentStep         *int
	TotalSteps          *int
	EstimatedCompletion *time.Time
	Details             string
}

// Payload keys used by the progress wire contract.
const (
	progressKeyOperation  = "operation"
	progressKeyPercentage = "percentage"
	progressKeyStep       = "step"
	progressKeyCurrent    = "current_step"
	progressKeyTotal      = "total_steps"
	progressKeyETA        = "estimated_completion"
	progressKeyDetails    = "details"
)

// Validate checks required fields and the percentage range invariant.
func (p *Progress) Validate() error {
	if p.Operation == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Progress", "Validate", "operation cannot be empty")
	}
	if p.Percentage != nil && (*p.Percentage < 0 || *p.Percentage > 100) {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Progress", "Validate",
			fmt.Sprintf("percentage %.2f outside [0,100]", *p.Percentage))
	}
	if p.CurrentStep != nil && *p.CurrentStep < 0 {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Progress", "Validate", "current_step cannot be negative")
	}
	if p.TotalSteps != nil && *p.TotalSteps <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Progress", "Validate", "total_steps must be positive")
	}
	return nil
}

// Envelope wraps the progress data in a validated TypeProgressUpdate envelope.
// Percentage, step counts and ETA are omitted from the payload when absent.
func (p *Progress) Envelope(source string, opts ...Option) (*Envelope, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]any{
		progressKeyOperation: p.Operation,
		progressKeyStep:      p.Step,
	}
	if p.Percentage != nil {
		payload[progressKeyPercentage] = *p.Percentage
	}
	if p.CurrentStep != nil {
		payload[progressKeyCurrent] = *p.CurrentStep
	}
	if p.TotalSteps != nil {
		payload[progressKeyTotal] = *p.TotalSteps
	}
	if p.EstimatedCompletion != nil {
		payload[progressKeyETA] = p.EstimatedCompletion.UTC().Format(time.RFC3339)
	}
	if p.Details != "" {
		payload[progressKeyDetails] = p.Details
	}

	return NewEnvelope(TypeProgressUpdate, source, payload, opts...)
}

// ParseProgress extracts the typed progress view from an envelope.
// Fails for non-progress envelopes or payloads violating the invariants.
func ParseProgress(env *Envelope) (*Progress, error) {
	if env.Type() != TypeProgressUpdate {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage, "Progress", "ParseProgress",
			fmt.Sprintf("envelope type %q is not a progress update", env.Type()))
	}

	payload := env.Payload()
	p := &Progress{}

	if op, ok := payload[progressKeyOperation].(string); ok {
		p.Operation = op
	}
	if step, ok := payload[progressKeyStep].(string); ok {
		p.Step = step
	}
	if details, ok := payload[progressKeyDetails].(string); ok {
		p.Details = details
	}
	if pct, ok := asFloat(payload[progressKeyPercentage]); ok {
		p.Percentage = &pct
	}
	if cur, ok := asInt(payload[progressKeyCurrent]); ok {
		p.CurrentStep = &cur
	}
	if total, ok := asInt(payload[progressKeyTotal]); ok {
		p.TotalSteps = &total
	}
	if raw, ok := payload[progressKeyETA].(string); ok {
		if eta, err := time.Parse(time.RFC3339, raw); err == nil {
			p.EstimatedCompletion = &eta
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// asFloat coerces JSON numbers, which decode as float64, and in-process
// integer values.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
