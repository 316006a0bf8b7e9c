package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/localxplore/localxplore/pkg/core"
	"github.com/localxplore/localxplore/pkg/travel"
)

// Collaborators are the application sinks tool calls are dispatched to.
// They accept well-formed records and must not panic; result
// acknowledgement is the orchestrator's job, not theirs.
type Collaborators struct {
	// BookGuide receives a booking hand-off. Its acknowledgement to the
	// model is deferred until PaymentSucceeded is called.
	BookGuide func(travel.GuideBooking)

	// AddItinerary receives a created itinerary; its acknowledgement is
	// sent in the same turn.
	AddItinerary func(travel.Itinerary)

	// Notify posts a user-visible notification message.
	Notify func(message string)

	// OnAsyncError surfaces failures that happen outside a Send call's
	// terminal callback, such as a failed immediate tool-result send.
	OnAsyncError func(error)
}

// SendCallbacks receive the streamed progress of one turn. Exactly one of
// OnComplete or OnError fires per Send invocation, never both.
type SendCallbacks struct {
	// OnStream receives either a text fragment (isToolCall false) or the
	// name of a detected tool call (isToolCall true).
	OnStream func(fragment string, isToolCall bool)

	// OnComplete fires once on success with the turn's tool calls, if any.
	OnComplete func(calls []ToolCall)

	// OnError fires once on failure.
	OnError func(err error)
}

// Config configures an Orchestrator.
type Config struct {
	Model         string
	Logger        zerolog.Logger
	Collaborators Collaborators
}

type pendingCall struct {
	name      string
	turnIndex int
}

// Orchestrator owns the conversation history and the correlation table of
// tool calls awaiting acknowledgement. A concurrent Send while a turn is in
// flight is rejected with a busy error rather than queued.
type Orchestrator struct {
	svc    Service
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	remote  Remote
	turns   []Turn
	busy    bool
	pending map[string]pendingCall // tool call id -> unacknowledged call
}

// New creates an orchestrator over the given remote conversational service.
func New(svc Service, cfg Config) *Orchestrator {
	return &Orchestrator{
		svc:     svc,
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "chat").Logger(),
		pending: make(map[string]pendingCall),
	}
}

// Initialize establishes the remote session with the given prior turns as
// history. Calling it again replaces the session and resets the
// correlation table.
func (o *Orchestrator) Initialize(ctx context.Context, prior []Turn) error {
	remote, err := o.svc.CreateSession(ctx, SessionConfig{
		Model:   o.cfg.Model,
		Tools:   []Declaration{BookGuideDeclaration(), CreateItineraryDeclaration()},
		History: prior,
	})
	if err != nil {
		return core.NewInitializationError(
			"Failed to initialize chat. Please ensure your API key is valid and try again.", err)
	}

	o.mu.Lock()
	o.remote = remote
	o.turns = append([]Turn(nil), prior...)
	o.busy = false
	o.pending = make(map[string]pendingCall)
	o.mu.Unlock()

	o.logger.Info().Int("prior_turns", len(prior)).Msg("chat session initialized")
	return nil
}

// Turns returns a copy of the conversation history.
func (o *Orchestrator) Turns() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Turn, len(o.turns))
	copy(out, o.turns)
	return out
}

// Send streams one user turn to the model. It blocks until the turn is
// terminal; the returned error mirrors what OnError received, nil mirrors
// OnComplete. While a turn is in flight further sends fail with a busy
// error (reject-if-busy; turns are not queued).
func (o *Orchestrator) Send(ctx context.Context, text string, cb SendCallbacks) error {
	o.mu.Lock()
	if o.remote == nil {
		o.mu.Unlock()
		return o.fail(cb, core.NewUninitializedError("Chat is not initialized."))
	}
	if o.busy {
		o.mu.Unlock()
		return o.fail(cb, core.NewBusyError("A message is already in flight. Wait for it to finish."))
	}
	o.busy = true
	o.turns = append(o.turns,
		NewTurn(RoleUser, text),
		Turn{Role: RoleModel, Parts: []Fragment{}, Pending: true},
	)
	remote := o.remote
	o.mu.Unlock()

	stream, err := remote.SendTurn(ctx, text)
	if err != nil {
		o.rollbackPending()
		return o.fail(cb, core.NewTransportError(
			"Failed to get a response from Orbitto. Please try again.", err))
	}
	defer stream.Close()

	var calls []ToolCall
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			o.rollbackPending()
			return o.fail(cb, core.NewTransportError(
				"Failed to get a response from Orbitto. Please try again.", err))
		}
		if ev.TextDelta != "" {
			o.appendToPending(ev.TextDelta)
			if cb.OnStream != nil {
				cb.OnStream(ev.TextDelta, false)
			}
		}
		if len(ev.ToolCalls) > 0 {
			calls = append(calls, ev.ToolCalls...)
			if cb.OnStream != nil {
				cb.OnStream(ev.ToolCalls[0].Name, true)
			}
		}
	}

	o.finalizeTurn(calls)
	if len(calls) > 0 {
		o.dispatch(ctx, calls)
	}

	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()

	if cb.OnComplete != nil {
		cb.OnComplete(calls)
	}
	return nil
}

// SendToolResult echoes a tool result back to the model, advancing the
// remote conversation so it can react in a subsequent turn.
func (o *Orchestrator) SendToolResult(ctx context.Context, toolCallID, name string, payload map[string]any) error {
	o.mu.Lock()
	remote := o.remote
	_, known := o.pending[toolCallID]
	o.mu.Unlock()

	if remote == nil {
		return core.NewUninitializedError("Chat is not initialized.")
	}
	if toolCallID == "" || !known {
		return core.NewMissingCorrelationError(
			fmt.Sprintf("No pending tool call matches id %q.", toolCallID))
	}

	err := remote.SendToolResult(ctx, ToolResult{ToolCallID: toolCallID, Name: name, Payload: payload})
	if err != nil {
		return core.NewTransportError("Orbitto couldn't process the tool response. Please try again.", err)
	}

	o.mu.Lock()
	delete(o.pending, toolCallID)
	o.mu.Unlock()
	o.logger.Debug().Str("tool_call_id", toolCallID).Str("tool", name).Msg("tool result sent")
	return nil
}

// PaymentSucceeded is the out-of-band signal that the deferred booking
// acknowledgement waits for. It resolves the most recent unacknowledged
// booking call via the correlation table and sends its result.
func (o *Orchestrator) PaymentSucceeded(ctx context.Context) error {
	o.mu.Lock()
	id := ""
	latest := -1
	for callID, p := range o.pending {
		if p.name == ToolBookGuide && p.turnIndex > latest {
			latest = p.turnIndex
			id = callID
		}
	}
	o.mu.Unlock()

	if id == "" {
		return core.NewMissingCorrelationError("No booking is awaiting payment confirmation.")
	}

	err := o.SendToolResult(ctx, id, ToolBookGuide, map[string]any{
		"status":  "success",
		"message": "Travel guide booked successfully.",
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.turns = append(o.turns, NewTurn(RoleModel,
		"Great! Your guide has been successfully booked. Enjoy your adventure!"))
	o.mu.Unlock()

	if o.cfg.Collaborators.Notify != nil {
		o.cfg.Collaborators.Notify("Your travel guide has been successfully booked!")
	}
	return nil
}

// PendingBookings reports how many booking calls still await payment.
func (o *Orchestrator) PendingBookings() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, p := range o.pending {
		if p.name == ToolBookGuide {
			n++
		}
	}
	return n
}

// dispatch applies the tool-call policy: only the first call of a turn is
// acted on. Ignored calls never enter the correlation table, so they can
// neither be acknowledged nor counted as awaiting payment.
func (o *Orchestrator) dispatch(ctx context.Context, calls []ToolCall) {
	if len(calls) > 1 {
		o.logger.Warn().Int("ignored", len(calls)-1).Msg("turn carried multiple tool calls; dispatching first only")
	}
	fc := calls[0]

	o.mu.Lock()
	o.pending[fc.ID] = pendingCall{name: fc.Name, turnIndex: len(o.turns) - 1}
	o.mu.Unlock()

	switch fc.Name {
	case ToolBookGuide:
		booking, err := DecodeBooking(fc.Args)
		if err != nil {
			o.asyncError(fmt.Errorf("decode booking arguments: %w", err))
			return
		}
		if o.cfg.Collaborators.BookGuide != nil {
			o.cfg.Collaborators.BookGuide(booking)
		}
		o.appendModelText(fmt.Sprintf(
			"Understood! Initiating booking for %s for %s on %s at %s for $%.2f. Please confirm on the payment page.",
			booking.GuideName, booking.Activity, booking.Date, booking.Time, booking.Price))
		o.logger.Info().Str("guide", booking.GuideName).Str("tool_call_id", fc.ID).Msg("booking handed off; acknowledgement deferred until payment")

	case ToolCreateItinerary:
		itinerary, err := DecodeItinerary(fc.Args)
		if err != nil {
			o.asyncError(fmt.Errorf("decode itinerary arguments: %w", err))
			return
		}
		if o.cfg.Collaborators.AddItinerary != nil {
			o.cfg.Collaborators.AddItinerary(itinerary)
		}
		if err := o.SendToolResult(ctx, fc.ID, ToolCreateItinerary, map[string]any{
			"status":  "success",
			"message": fmt.Sprintf("Itinerary %q created.", itinerary.Name),
		}); err != nil {
			o.asyncError(err)
		}
		o.appendModelText(fmt.Sprintf(
			"Wonderful! I've crafted a new itinerary for you: %q. You can find it in the Itineraries section!",
			itinerary.Name))

	default:
		o.logger.Warn().Str("tool", fc.Name).Msg("model called an unknown tool; ignoring")
	}
}

// fail reports a terminal error through OnError and returns it.
func (o *Orchestrator) fail(cb SendCallbacks, err error) error {
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return err
}

func (o *Orchestrator) asyncError(err error) {
	o.logger.Error().Err(err).Msg("tool dispatch failed")
	if o.cfg.Collaborators.OnAsyncError != nil {
		o.cfg.Collaborators.OnAsyncError(err)
	}
}

// rollbackPending removes the incomplete model turn after a failed send and
// clears the busy flag. The user's turn stays in history.
func (o *Orchestrator) rollbackPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
	if n := len(o.turns); n > 0 && o.turns[n-1].Pending {
		o.turns = o.turns[:n-1]
	}
}

func (o *Orchestrator) appendToPending(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.turns); n > 0 && o.turns[n-1].Pending {
		o.turns[n-1].Parts = append(o.turns[n-1].Parts, Fragment{Text: text})
	}
}

// appendModelText adds dispatch commentary to the just-completed model turn.
func (o *Orchestrator) appendModelText(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.turns); n > 0 && o.turns[n-1].Role == RoleModel {
		o.turns[n-1].Parts = append(o.turns[n-1].Parts, Fragment{Text: text})
	}
}

func (o *Orchestrator) finalizeTurn(calls []ToolCall) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.turns); n > 0 && o.turns[n-1].Pending {
		o.turns[n-1].Pending = false
	}
	if len(calls) > 0 {
		o.logger.Debug().Int("tool_calls", len(calls)).Msg("turn completed with tool calls")
	}
}
