// File: internal/dispatch/dispatcher_test.go
package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/channel"
)

// fakeChannel records every message and answers from a per-type handler
// table, defaulting to a bare success.
type fakeChannel struct {
	mu       sync.Mutex
	messages []schemas.Message
	handlers map[string]func(schemas.Message) (*schemas.Response, error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]func(schemas.Message) (*schemas.Response, error))}
}

func (f *fakeChannel) handle(msgType string, out string) {
	f.handlers[msgType] = func(schemas.Message) (*schemas.Response, error) {
		return &schemas.Response{Success: true, Out: []byte(out)}, nil
	}
}

func (f *fakeChannel) fail(msgType string, err error) {
	f.handlers[msgType] = func(schemas.Message) (*schemas.Response, error) {
		return nil, err
	}
}

func (f *fakeChannel) Send(_ context.Context, msg schemas.Message) (*schemas.Response, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	h := f.handlers[msg.Type]
	f.mu.Unlock()
	if h != nil {
		return h(msg)
	}
	return &schemas.Response{Success: true}, nil
}

func (f *fakeChannel) sent() []schemas.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schemas.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeChannel) sentTypes() []string {
	var out []string
	for _, m := range f.sent() {
		out = append(out, m.Type)
	}
	return out
}

func (f *fakeChannel) countType(msgType string) int {
	n := 0
	for _, m := range f.sent() {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// fakeAI pops scripted results, repeating the last one once exhausted.
type fakeAI struct {
	mu      sync.Mutex
	results []*schemas.AIResult
	err     error
	calls   []schemas.AIRequest
}

func (f *fakeAI) Query(_ context.Context, req schemas.AIRequest) (*schemas.AIResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &schemas.AIResult{}, nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r, nil
}

func (f *fakeAI) QueryStream(ctx context.Context, req schemas.AIRequest, _ schemas.ChunkHandler) (*schemas.AIResult, error) {
	return f.Query(ctx, req)
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	records []schemas.InteractionRecord
}

func (f *fakeSink) Track(_ context.Context, rec schemas.InteractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) all() []schemas.InteractionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schemas.InteractionRecord, len(f.records))
	copy(out, f.records)
	return out
}

type fakeNarrator struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNarrator) Narrate(msg string) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

type fakeOutputs struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeOutputs() *fakeOutputs {
	return &fakeOutputs{values: make(map[string]string)}
}

func (f *fakeOutputs) Set(name, value string) {
	f.mu.Lock()
	f.values[name] = value
	f.mu.Unlock()
}

func (f *fakeOutputs) Snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

type testHarness struct {
	dispatcher *Dispatcher
	channel    *fakeChannel
	ai         *fakeAI
	sink       *fakeSink
	narrator   *fakeNarrator
	outputs    *fakeOutputs
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ch := newFakeChannel()
	ai := &fakeAI{}
	sink := &fakeSink{}
	narrator := &fakeNarrator{}
	outputs := newFakeOutputs()

	d, err := New(Deps{
		Channel:   channel.NewClient(ch),
		AI:        ai,
		Narrator:  narrator,
		Telemetry: sink,
		Outputs:   outputs,
		Logger:    zap.NewNop(),
		Config: Config{
			SessionID:         "run-under-test",
			SettleDelay:       time.Millisecond,
			QueryPollInterval: time.Millisecond,
			RedrawTimeout:     50 * time.Millisecond,
			ShellTimeout:      time.Second,
			ScriptTimeout:     time.Second,
		},
	})
	require.NoError(t, err)
	return &testHarness{dispatcher: d, channel: ch, ai: ai, sink: sink, narrator: narrator, outputs: outputs}
}

func TestNewRejectsNilDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestClickSequence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dispatcher.Click(context.Background(), ClickOpts{X: 10, Y: 20, Action: "right"}))

	assert.Equal(t, []string{schemas.MsgMoveMouse, schemas.MsgRightClick}, h.channel.sentTypes())
	move := h.channel.sent()[0]
	assert.Equal(t, 10, move.Fields["x"])
	assert.Equal(t, 20, move.Fields["y"])
}

func TestClickDefaultsToLeft(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dispatcher.ClickAt(context.Background(), 1, 2, ""))
	assert.Equal(t, []string{schemas.MsgMoveMouse, schemas.MsgLeftClick}, h.channel.sentTypes())
}

// TestDispatchEquivalence verifies that the scripted map form and the typed
// positional form of a command produce identical wire traffic.
func TestDispatchEquivalence(t *testing.T) {
	scripted := newHarness(t)
	require.NoError(t, scripted.dispatcher.Dispatch(context.Background(), schemas.Command{
		Kind:   schemas.CmdClick,
		Params: map[string]any{"x": 15, "y": 25, "action": "double"},
	}))

	direct := newHarness(t)
	require.NoError(t, direct.dispatcher.ClickAt(context.Background(), 15, 25, "double"))

	if diff := cmp.Diff(direct.channel.sent(), scripted.channel.sent()); diff != "" {
		t.Errorf("wire traffic differs between call forms (-direct +scripted):\n%s", diff)
	}
}

func TestHoverSendsOnlyMove(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dispatcher.HoverAt(context.Background(), 3, 4))
	assert.Equal(t, []string{schemas.MsgMoveMouse}, h.channel.sentTypes())
}

func TestTypeRequiresText(t *testing.T) {
	h := newHarness(t)
	err := h.dispatcher.Type(context.Background(), TypeOpts{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, h.channel.sent())
}

func TestPressKeys(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dispatcher.PressKeys(context.Background(), PressKeysOpts{Keys: []string{"ctrl", "s"}}))

	msgs := h.channel.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, schemas.MsgPress, msgs[0].Type)
	assert.Equal(t, []string{"ctrl", "s"}, msgs[0].Fields["keys"])
}

func TestDragSequence(t *testing.T) {
	t.Run("press move release", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.dispatcher.Drag(context.Background(), DragOpts{FromX: 1, FromY: 2, ToX: 3, ToY: 4}))
		assert.Equal(t, []string{
			schemas.MsgMoveMouse,
			schemas.MsgMousePress,
			schemas.MsgMoveMouse,
			schemas.MsgMouseRelease,
		}, h.channel.sentTypes())
	})

	t.Run("button released when the mid-drag move fails", func(t *testing.T) {
		h := newHarness(t)
		moves := 0
		h.channel.handlers[schemas.MsgMoveMouse] = func(schemas.Message) (*schemas.Response, error) {
			moves++
			if moves > 1 {
				return nil, errors.New("cursor stuck")
			}
			return &schemas.Response{Success: true}, nil
		}
		err := h.dispatcher.Drag(context.Background(), DragOpts{FromX: 1, FromY: 2, ToX: 3, ToY: 4})
		require.Error(t, err)
		assert.Equal(t, 1, h.channel.countType(schemas.MsgMouseRelease))
	})
}

func TestScroll(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dispatcher.Scroll(context.Background(), ScrollOpts{Direction: "up", Amount: 120}))

	msgs := h.channel.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, schemas.MsgScroll, msgs[0].Type)
	assert.Equal(t, 0, msgs[0].Fields["dx"])
	assert.Equal(t, -120, msgs[0].Fields["dy"])
}

func TestScrollDeltas(t *testing.T) {
	cases := []struct {
		direction string
		amount    int
		dx, dy    int
	}{
		{"down", 100, 0, 100},
		{"", 100, 0, 100},
		{"up", 100, 0, -100},
		{"right", 100, 100, 0},
		{"left", 100, -100, 0},
		{"down", 0, 0, defaultScrollAmount},
	}
	for _, tc := range cases {
		dx, dy, err := scrollDeltas(tc.direction, tc.amount)
		require.NoError(t, err)
		assert.Equal(t, tc.dx, dx, tc.direction)
		assert.Equal(t, tc.dy, dy, tc.direction)
	}

	_, _, err := scrollDeltas("diagonal", 100)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestWaitPausesWithoutRemoteTraffic(t *testing.T) {
	h := newHarness(t)
	start := time.Now()
	require.NoError(t, h.dispatcher.Wait(context.Background(), WaitOpts{Timeout: 20 * time.Millisecond}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, h.channel.sent())

	records := h.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "wait", records[0].Type)
	assert.True(t, records[0].Success)
}

func TestTelemetryRecordedOnActionFailure(t *testing.T) {
	h := newHarness(t)
	h.channel.fail(schemas.MsgWrite, errors.New("keyboard unavailable"))

	err := h.dispatcher.Type(context.Background(), TypeOpts{Text: "hello"})
	require.Error(t, err)

	records := h.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "type", records[0].Type)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "keyboard unavailable")
	assert.Equal(t, "run-under-test", records[0].SessionID)
}

func TestDispatchUnsupportedCommand(t *testing.T) {
	h := newHarness(t)
	err := h.dispatcher.Dispatch(context.Background(), schemas.Command{Kind: "teleport"})
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(errors.New("transport exploded")))
	assert.True(t, IsFatal(configErrorf("bad arguments")))
	assert.False(t, IsFatal(&MatchFailure{Description: "button", Condition: "not found"}))
	assert.True(t, IsFatal(&MatchFailure{Description: "button", Condition: "timed out", Fatal: true}))
}
