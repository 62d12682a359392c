// Package progress tracks a long-running operation scoped to one session and
// emits normalized progress events over the service bus.
//
// A Notifier never fails the operation it tracks: publish errors are logged
// and swallowed.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/simbuilder/servicebus/bus"
	"github.com/simbuilder/servicebus/errors"
	"github.com/simbuilder/servicebus/message"
	"github.com/simbuilder/servicebus/topic"
)

// progressEvent is the event-type suffix all notifier emissions route to,
// regardless of the operation's semantic domain.
const progressEvent = "progress"

// Publisher is the subset of the bus client a notifier publishes through.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *message.Envelope) (string, error)
}

// Notifier tracks step/percentage/ETA state for one operation. It is owned
// by that operation and must not be shared across operations.
type Notifier struct {
	sessionID string
	operation string
	source    string
	logger    *slog.Logger
	limiter   *rate.Limiter

	publisher Publisher
	owned     *bus.Client
	busCfg    bus.Config
	registry  *topic.Registry

	mu          sync.Mutex
	totalSteps  int // 0 = unknown
	currentStep int
	startTime   time.Time
	lastUpdate  time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPublisher binds the notifier to an externally-owned bus client. The
// notifier never disconnects a borrowed client.
func WithPublisher(p Publisher) Option {
	return func(n *Notifier) {
		n.publisher = p
	}
}

// WithBusConfig supplies the connection configuration used when the notifier
// creates and owns its own client (no WithPublisher given).
func WithBusConfig(cfg bus.Config) Option {
	return func(n *Notifier) {
		n.busCfg = cfg
	}
}

// WithRegistry supplies the topic registry for an owned client. Defaults to
// a registry with the predefined topics.
func WithRegistry(r *topic.Registry) Option {
	return func(n *Notifier) {
		n.registry = r
	}
}

// WithLogger sets the structured logger used for swallowed failures.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithSource overrides the source identifier stamped on emitted envelopes.
func WithSource(source string) Option {
	return func(n *Notifier) {
		n.source = source
	}
}

// WithUpdateRateLimit throttles UpdateProgress and AdvanceStep emissions to
// at most limit events per second (burst tolerance of burst). Start,
// completion, and error events are never throttled. State still advances
// for throttled updates; only the publish is skipped.
func WithUpdateRateLimit(limit rate.Limit, burst int) Option {
	return func(n *Notifier) {
		n.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewNotifier creates a notifier for one operation within one session.
func NewNotifier(sessionID, operation string, opts ...Option) (*Notifier, error) {
	if sessionID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Notifier", "NewNotifier", "session id is required")
	}
	if operation == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Notifier", "NewNotifier", "operation is required")
	}

	n := &Notifier{
		sessionID: sessionID,
		operation: operation,
		source:    "progress-notifier",
		logger:    slog.Default(),
		busCfg:    bus.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n, nil
}

// Open prepares the notifier for use. When no publisher was supplied it
// creates and connects a bus client of its own.
func (n *Notifier) Open(ctx context.Context) error {
	if n.publisher != nil {
		return nil
	}

	registry := n.registry
	if registry == nil {
		registry = topic.NewRegistry()
	}

	client, err := bus.NewClient(n.busCfg, registry)
	if err != nil {
		return errors.Wrap(err, "Notifier", "Open", "create bus client")
	}
	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, "Notifier", "Open", "connect bus client")
	}

	n.owned = client
	n.publisher = client
	return nil
}

// Close releases the notifier. Only a client the notifier created itself is
// disconnected; borrowed publishers are left untouched.
func (n *Notifier) Close(ctx context.Context) error {
	if n.owned == nil {
		return nil
	}
	err := n.owned.Disconnect(ctx)
	n.owned = nil
	n.publisher = nil
	return err
}

// StartOperation resets the step counter, records the start time, and emits
// a zero-percent progress event. totalSteps <= 0 means the step count is
// unknown.
func (n *Notifier) StartOperation(ctx context.Context, totalSteps int) {
	n.mu.Lock()
	if totalSteps > 0 {
		n.totalSteps = totalSteps
	} else {
		n.totalSteps = 0
	}
	n.currentStep = 0
	n.startTime = time.Now()
	n.lastUpdate = n.startTime
	total := n.totalSteps
	n.mu.Unlock()

	zero := 0.0
	p := &message.Progress{
		Operation:  n.operation,
		Percentage: &zero,
		Step:       "Starting operation",
	}
	if total > 0 {
		p.TotalSteps = &total
		step := 0
		p.CurrentStep = &step
	}

	n.emit(ctx, p)
}

// Update carries the optional fields of an UpdateProgress call.
type Update struct {
	// Percentage overrides the step-derived percentage when set.
	Percentage *float64
	// Step describes the work currently in progress.
	Step string
	// StepNumber, when set, becomes the new current step.
	StepNumber *int
	// Details carries free-text context.
	Details string
}

// UpdateProgress emits a progress event. When Percentage is absent and the
// total step count is known, the percentage is derived from steps. When a
// positive percentage is known, the estimated completion time is linearly
// extrapolated from elapsed time. Publish failures never propagate.
func (n *Notifier) UpdateProgress(ctx context.Context, upd Update) {
	n.mu.Lock()
	if upd.StepNumber != nil {
		n.currentStep = *upd.StepNumber
	}
	current := n.currentStep
	total := n.totalSteps
	start := n.startTime
	n.lastUpdate = time.Now()
	n.mu.Unlock()

	pct := upd.Percentage
	if pct == nil && total > 0 {
		derived := float64(current) / float64(total) * 100
		pct = &derived
	}

	p := &message.Progress{
		Operation:   n.operation,
		Percentage:  pct,
		Step:        upd.Step,
		CurrentStep: &current,
		Details:     upd.Details,
	}
	if total > 0 {
		p.TotalSteps = &total
	}
	if pct != nil && *pct > 0 && !start.IsZero() {
		eta := estimateCompletion(start, *pct)
		p.EstimatedCompletion = &eta
	}

	if n.limiter != nil && !n.limiter.Allow() {
		// State already advanced; only the emission is dropped.
		return
	}

	n.emit(ctx, p)
}

// AdvanceStep increments the current step and emits the freshly derived
// percentage.
func (n *Notifier) AdvanceStep(ctx context.Context, description, details string) {
	n.mu.Lock()
	n.currentStep++
	next := n.currentStep
	n.mu.Unlock()

	n.UpdateProgress(ctx, Update{
		Step:       description,
		StepNumber: &next,
		Details:    details,
	})
}

// CompleteOperation emits the terminal 100% event. The details always carry
// the total elapsed time.
func (n *Notifier) CompleteOperation(ctx context.Context, details string) {
	n.mu.Lock()
	elapsed := time.Since(n.startTime)
	current := n.currentStep
	total := n.totalSteps
	n.lastUpdate = time.Now()
	n.mu.Unlock()

	elapsedText := fmt.Sprintf("completed in %.1fs", elapsed.Seconds())
	if details != "" {
		details = fmt.Sprintf("%s (%s)", details, elapsedText)
	} else {
		details = elapsedText
	}

	hundred := 100.0
	p := &message.Progress{
		Operation:   n.operation,
		Percentage:  &hundred,
		Step:        "Operation completed",
		CurrentStep: &current,
		Details:     details,
	}
	if total > 0 {
		p.TotalSteps = &total
	}

	n.emit(ctx, p)
}

// ErrorOccurred emits an event with the percentage explicitly absent and
// records the error with session/operation/step context. It never re-raises.
func (n *Notifier) ErrorOccurred(ctx context.Context, opErr error, step, details string) {
	n.mu.Lock()
	current := n.currentStep
	total := n.totalSteps
	n.lastUpdate = time.Now()
	n.mu.Unlock()

	if step == "" {
		step = "Error occurred"
	}
	if details == "" && opErr != nil {
		details = opErr.Error()
	}

	n.logger.Error("operation error",
		"session_id", n.sessionID,
		"operation", n.operation,
		"step", step,
		"error", opErr,
	)

	p := &message.Progress{
		Operation:   n.operation,
		Step:        step,
		CurrentStep: &current,
		Details:     details,
	}
	if total > 0 {
		p.TotalSteps = &total
	}

	n.emit(ctx, p)
}

// CurrentStep returns the current step number.
func (n *Notifier) CurrentStep() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentStep
}

// TotalSteps returns the total step count and whether it is known.
func (n *Notifier) TotalSteps() (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.totalSteps, n.totalSteps > 0
}

// Elapsed returns the time since StartOperation.
func (n *Notifier) Elapsed() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.startTime.IsZero() {
		return 0
	}
	return time.Since(n.startTime)
}

// SinceLastUpdate returns the time since the last emitted or recorded update.
func (n *Notifier) SinceLastUpdate() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastUpdate.IsZero() {
		return 0
	}
	return time.Since(n.lastUpdate)
}

// EstimatedPercentage derives a percentage purely from step counts,
// independent of any percentage passed to UpdateProgress. The second return
// is false when the total step count is unknown.
func (n *Notifier) EstimatedPercentage() (float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.totalSteps <= 0 {
		return 0, false
	}
	return float64(n.currentStep) / float64(n.totalSteps) * 100, true
}

// emit publishes a progress envelope to the session's discovery subject.
// Every notifier routes through the same subject template; failures are
// logged and swallowed so the tracked operation is never aborted.
func (n *Notifier) emit(ctx context.Context, p *message.Progress) {
	if n.publisher == nil {
		n.logger.Warn("progress event dropped: notifier not opened",
			"session_id", n.sessionID,
			"operation", n.operation,
		)
		return
	}

	env, err := p.Envelope(n.source, message.WithSessionID(n.sessionID))
	if err != nil {
		n.logger.Error("progress event invalid",
			"session_id", n.sessionID,
			"operation", n.operation,
			"error", err,
		)
		return
	}

	subject := topic.DiscoverySubject(n.sessionID, progressEvent)
	if _, err := n.publisher.Publish(ctx, subject, env); err != nil {
		n.logger.Error("progress publish failed",
			"session_id", n.sessionID,
			"operation", n.operation,
			"subject", subject,
			"error", err,
		)
	}
}

// estimateCompletion linearly extrapolates the completion time: the elapsed
// duration scaled by 100/percentage, added to the start time.
func estimateCompletion(start time.Time, percentage float64) time.Time {
	elapsed := time.Since(start)
	totalEstimate := time.Duration(float64(elapsed) * (100 / percentage))
	return start.Add(totalEstimate)
}
