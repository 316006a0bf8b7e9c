package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localxplore/localxplore/pkg/core"
	"github.com/localxplore/localxplore/pkg/travel"
)

// fakeStream replays scripted events, then errors or EOFs.
type fakeStream struct {
	events []StreamEvent
	errAt  error
	pos    int
}

func (s *fakeStream) Next() (StreamEvent, error) {
	if s.pos >= len(s.events) {
		if s.errAt != nil {
			return StreamEvent{}, s.errAt
		}
		return StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeRemote struct {
	mu          sync.Mutex
	streams     []*fakeStream
	sendErr     error
	toolErr     error
	toolResults []ToolResult
}

func (r *fakeRemote) SendTurn(ctx context.Context, text string) (Stream, error) {
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return &fakeStream{}, nil
	}
	s := r.streams[0]
	r.streams = r.streams[1:]
	return s, nil
}

func (r *fakeRemote) SendToolResult(ctx context.Context, res ToolResult) error {
	if r.toolErr != nil {
		return r.toolErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolResults = append(r.toolResults, res)
	return nil
}

func (r *fakeRemote) results() []ToolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolResult(nil), r.toolResults...)
}

type fakeService struct {
	remote    *fakeRemote
	createErr error
	gotConfig SessionConfig
}

func (s *fakeService) CreateSession(ctx context.Context, cfg SessionConfig) (Remote, error) {
	s.gotConfig = cfg
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.remote, nil
}

type sinkRecorder struct {
	mu          sync.Mutex
	bookings    []travel.GuideBooking
	itineraries []travel.Itinerary
	notices     []string
	asyncErrs   []error
}

func (r *sinkRecorder) collaborators() Collaborators {
	return Collaborators{
		BookGuide: func(b travel.GuideBooking) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.bookings = append(r.bookings, b)
		},
		AddItinerary: func(it travel.Itinerary) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.itineraries = append(r.itineraries, it)
		},
		Notify: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.notices = append(r.notices, msg)
		},
		OnAsyncError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.asyncErrs = append(r.asyncErrs, err)
		},
	}
}

type terminalCounter struct {
	completes int
	errs      []error
	calls     []ToolCall
}

func (c *terminalCounter) callbacks(onStream func(string, bool)) SendCallbacks {
	return SendCallbacks{
		OnStream: onStream,
		OnComplete: func(calls []ToolCall) {
			c.completes++
			c.calls = calls
		},
		OnError: func(err error) { c.errs = append(c.errs, err) },
	}
}

func newInitialized(t *testing.T, remote *fakeRemote, sinks *sinkRecorder) *Orchestrator {
	t.Helper()
	svc := &fakeService{remote: remote}
	o := New(svc, Config{Model: "gemini-2.5-flash", Logger: zerolog.Nop(), Collaborators: sinks.collaborators()})
	require.NoError(t, o.Initialize(context.Background(), nil))
	return o
}

func bookingArgs() map[string]any {
	return map[string]any{
		"guideName": "Maya",
		"activity":  "food tasting",
		"date":      "August 15th",
		"time":      "2 PM",
		"price":     float64(75),
	}
}

func itineraryArgs() map[string]any {
	return map[string]any{
		"name":        "Kyoto Weekend",
		"duration":    "Weekend",
		"description": "Temples and tea houses.",
		"places":      []any{"Fushimi Inari", "Gion"},
		"activities":  []any{"temple walk", "tea ceremony"},
	}
}

func TestInitialize_WrapsFailure(t *testing.T) {
	svc := &fakeService{createErr: errors.New("401 unauthorized")}
	o := New(svc, Config{Model: "gemini-2.5-flash", Logger: zerolog.Nop()})

	err := o.Initialize(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrInitialization))
}

func TestInitialize_DeclaresBothTools(t *testing.T) {
	svc := &fakeService{remote: &fakeRemote{}}
	o := New(svc, Config{Model: "gemini-2.5-flash", Logger: zerolog.Nop()})
	require.NoError(t, o.Initialize(context.Background(), nil))

	names := make([]string, 0, 2)
	for _, d := range svc.gotConfig.Tools {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{ToolBookGuide, ToolCreateItinerary}, names)
}

func TestSend_RequiresInitialization(t *testing.T) {
	o := New(&fakeService{remote: &fakeRemote{}}, Config{Logger: zerolog.Nop()})
	var term terminalCounter

	err := o.Send(context.Background(), "hi", term.callbacks(nil))
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrUninitialized))
	assert.Equal(t, 0, term.completes)
	require.Len(t, term.errs, 1)
}

func TestSend_StreamsFragmentsInOrder(t *testing.T) {
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{
		{TextDelta: "Hello"},
		{TextDelta: ", traveler"},
		{TextDelta: "!"},
	}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var got []string
	var term terminalCounter
	err := o.Send(context.Background(), "hi", term.callbacks(func(frag string, toolCall bool) {
		require.False(t, toolCall)
		got = append(got, frag)
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", traveler", "!"}, got)
	assert.Equal(t, 1, term.completes)
	assert.Empty(t, term.errs)

	turns := o.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Text())
	assert.Equal(t, "Hello, traveler!", turns[1].Text())
	assert.False(t, turns[1].Pending)
}

func TestSend_ExactlyOneTerminalCallbackOnFailure(t *testing.T) {
	remote := &fakeRemote{streams: []*fakeStream{{
		events: []StreamEvent{{TextDelta: "partial"}},
		errAt:  errors.New("connection reset"),
	}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var term terminalCounter
	err := o.Send(context.Background(), "hi", term.callbacks(nil))
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrTransport))
	assert.Equal(t, 0, term.completes)
	require.Len(t, term.errs, 1)

	// The incomplete model turn is rolled back; the user turn remains.
	turns := o.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, RoleUser, turns[0].Role)
}

func TestSend_RejectsWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{{TextDelta: "slow"}}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.Send(context.Background(), "first", SendCallbacks{
			OnStream: func(string, bool) {
				close(started)
				<-release
			},
		})
	}()

	<-started
	var term terminalCounter
	err := o.Send(context.Background(), "second", term.callbacks(nil))
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrBusy))
	close(release)
	wg.Wait()
}

func TestDispatch_FirstToolCallOnly(t *testing.T) {
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{
		{ToolCalls: []ToolCall{
			{ID: "call-1", Name: ToolCreateItinerary, Args: itineraryArgs()},
			{ID: "call-2", Name: ToolBookGuide, Args: bookingArgs()},
		}},
	}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var term terminalCounter
	require.NoError(t, o.Send(context.Background(), "plan my weekend", term.callbacks(nil)))

	// Only the first call has side effects.
	require.Len(t, sinks.itineraries, 1)
	assert.Empty(t, sinks.bookings)
	assert.Equal(t, "Kyoto Weekend", sinks.itineraries[0].Name)
	// Both calls are still reported to the caller.
	require.Len(t, term.calls, 2)
}

func TestDispatch_ItineraryAcknowledgedSameTurn(t *testing.T) {
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{
		{ToolCalls: []ToolCall{{ID: "call-7", Name: ToolCreateItinerary, Args: itineraryArgs()}}},
	}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var term terminalCounter
	require.NoError(t, o.Send(context.Background(), "make an itinerary", term.callbacks(nil)))

	results := remote.results()
	require.Len(t, results, 1)
	assert.Equal(t, "call-7", results[0].ToolCallID)
	assert.Equal(t, ToolCreateItinerary, results[0].Name)
	assert.Equal(t, "success", results[0].Payload["status"])
}

func TestDispatch_BookingDeferredUntilPayment(t *testing.T) {
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{
		{ToolCalls: []ToolCall{{ID: "call-9", Name: ToolBookGuide, Args: bookingArgs()}}},
	}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var term terminalCounter
	require.NoError(t, o.Send(context.Background(), "book maya", term.callbacks(nil)))

	// Hand-off happened, but no acknowledgement yet.
	require.Len(t, sinks.bookings, 1)
	assert.Empty(t, remote.results())
	assert.Equal(t, 1, o.PendingBookings())

	// The payment-success signal releases the result for the pending call.
	require.NoError(t, o.PaymentSucceeded(context.Background()))
	results := remote.results()
	require.Len(t, results, 1)
	assert.Equal(t, "call-9", results[0].ToolCallID)
	assert.Equal(t, ToolBookGuide, results[0].Name)
	assert.Equal(t, 0, o.PendingBookings())
	require.Len(t, sinks.notices, 1)
}

func TestPaymentSucceeded_ResolvesDispatchedBookingOnly(t *testing.T) {
	// A turn with two booking calls: only the first is dispatched, and only
	// the first may ever be acknowledged. The ignored call must not enter
	// the correlation table, or payment resolution would be nondeterministic.
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{
		{ToolCalls: []ToolCall{
			{ID: "call-first", Name: ToolBookGuide, Args: bookingArgs()},
			{ID: "call-second", Name: ToolBookGuide, Args: bookingArgs()},
		}},
	}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var term terminalCounter
	require.NoError(t, o.Send(context.Background(), "book two guides", term.callbacks(nil)))

	require.Len(t, sinks.bookings, 1)
	assert.Equal(t, 1, o.PendingBookings())

	require.NoError(t, o.PaymentSucceeded(context.Background()))
	results := remote.results()
	require.Len(t, results, 1)
	assert.Equal(t, "call-first", results[0].ToolCallID)
	assert.Equal(t, 0, o.PendingBookings())

	// The ignored call has no correlation entry to acknowledge.
	err := o.SendToolResult(context.Background(), "call-second", ToolBookGuide, nil)
	assert.True(t, core.IsType(err, core.ErrMissingCorrelation))
}

func TestPaymentSucceeded_WithoutBooking(t *testing.T) {
	remote := &fakeRemote{}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	err := o.PaymentSucceeded(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrMissingCorrelation))
}

func TestSendToolResult_Errors(t *testing.T) {
	o := New(&fakeService{remote: &fakeRemote{}}, Config{Logger: zerolog.Nop()})
	err := o.SendToolResult(context.Background(), "call-1", ToolBookGuide, nil)
	assert.True(t, core.IsType(err, core.ErrUninitialized))

	remote := &fakeRemote{}
	o = newInitialized(t, remote, &sinkRecorder{})
	err = o.SendToolResult(context.Background(), "", ToolBookGuide, nil)
	assert.True(t, core.IsType(err, core.ErrMissingCorrelation))

	err = o.SendToolResult(context.Background(), "never-issued", ToolBookGuide, nil)
	assert.True(t, core.IsType(err, core.ErrMissingCorrelation))
}

func TestSend_ToolCallMarkerStreamed(t *testing.T) {
	remote := &fakeRemote{streams: []*fakeStream{{events: []StreamEvent{
		{TextDelta: "Let me set that up. "},
		{ToolCalls: []ToolCall{{ID: "call-3", Name: ToolBookGuide, Args: bookingArgs()}}},
	}}}}
	sinks := &sinkRecorder{}
	o := newInitialized(t, remote, sinks)

	var markers []string
	var term terminalCounter
	require.NoError(t, o.Send(context.Background(), "book it", term.callbacks(func(frag string, toolCall bool) {
		if toolCall {
			markers = append(markers, frag)
		}
	})))
	assert.Equal(t, []string{ToolBookGuide}, markers)
}
