package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaswanth-hue/jamroom/internal/domain"
	"github.com/yaswanth-hue/jamroom/internal/protocol"
)

type fakeTransport struct {
	mu     sync.Mutex
	in     chan []byte
	sent   []any
	closed bool
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 32)}
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Incoming() <-chan []byte { return f.in }

func (f *fakeTransport) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.in)
	})
}

func (f *fakeTransport) push(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- b
}

func (f *fakeTransport) sentOfType(typeName string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, v := range f.sent {
		switch m := v.(type) {
		case protocol.JoinRoom:
			if m.Type == typeName {
				out = append(out, m)
			}
		case protocol.MuteStatus:
			if m.Type == typeName {
				out = append(out, m)
			}
		case protocol.SendingSignal:
			if m.Type == typeName {
				out = append(out, m)
			}
		case protocol.ReturnedSignal:
			if m.Type == typeName {
				out = append(out, m)
			}
		}
	}
	return out
}

type fakeCapture struct {
	mu      sync.Mutex
	track   webrtc.TrackLocal
	stopped bool
}

func newFakeCapture(t *testing.T) *fakeCapture {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	return &fakeCapture{track: track}
}

func (f *fakeCapture) Track() webrtc.TrackLocal { return f.track }

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeCapture) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeCall struct {
	mu       sync.Mutex
	remoteID string
	answered bool
	replaced int
	closed   bool
}

func (f *fakeCall) ApplyAnswer(json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = true
	return nil
}

func (f *fakeCall) ReplaceAudio(webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced++
	return nil
}

func (f *fakeCall) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeCall) stats() (answered bool, replaced int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answered, f.replaced, f.closed
}

type fakeCalls struct {
	mu    sync.Mutex
	calls map[string]*fakeCall
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{calls: make(map[string]*fakeCall)}
}

func (f *fakeCalls) Outbound(remoteID string, _ webrtc.TrackLocal) (activeCall, json.RawMessage, error) {
	c := &fakeCall{remoteID: remoteID}
	f.mu.Lock()
	f.calls[remoteID] = c
	f.mu.Unlock()
	return c, json.RawMessage(`{"type":"offer","sdp":"fake"}`), nil
}

func (f *fakeCalls) Inbound(remoteID string, _ webrtc.TrackLocal, _ json.RawMessage) (activeCall, json.RawMessage, error) {
	c := &fakeCall{remoteID: remoteID}
	f.mu.Lock()
	f.calls[remoteID] = c
	f.mu.Unlock()
	return c, json.RawMessage(`{"type":"answer","sdp":"fake"}`), nil
}

func (f *fakeCalls) get(remoteID string) (*fakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[remoteID]
	return c, ok
}

// harness wires a controller to fakes and walks it into Joined.
type harness struct {
	ctl       *Controller
	transport *fakeTransport
	capture   *fakeCapture
	calls     *fakeCalls
}

func newJoinedHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		calls:     newFakeCalls(),
	}
	h.ctl = NewController(Options{
		ServerURL: "ws://test/api/ws/signal",
		Dial: func(ctx context.Context, _ string) (Transport, error) {
			return h.transport, nil
		},
		Capture: func(ctx context.Context) (Capture, error) {
			h.capture = newFakeCapture(t)
			return h.capture, nil
		},
	})
	h.ctl.calls = h.calls

	h.transport.push(t, protocol.Welcome{Type: protocol.TypeWelcome, ConnectionID: "self-id"})
	require.NoError(t, h.ctl.Join(context.Background(), "practice"))
	require.Equal(t, StateJoined, h.ctl.State())
	return h
}

func TestJoinHappyPath(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	assert.Equal(t, "self-id", h.ctl.SelfID())

	joins := h.transport.sentOfType(protocol.TypeJoinRoom)
	require.Len(t, joins, 1)
	assert.Equal(t, "practice", joins[0].(protocol.JoinRoom).RoomID)
}

func TestJoinWithDisplayNameTracksSluggedRoom(t *testing.T) {
	h := &harness{
		transport: newFakeTransport(),
		calls:     newFakeCalls(),
	}
	h.ctl = NewController(Options{
		ServerURL: "ws://test/api/ws/signal",
		Dial: func(ctx context.Context, _ string) (Transport, error) {
			return h.transport, nil
		},
		Capture: func(ctx context.Context) (Capture, error) {
			h.capture = newFakeCapture(t)
			return h.capture, nil
		},
	})
	h.ctl.calls = h.calls

	h.transport.push(t, protocol.Welcome{Type: protocol.TypeWelcome, ConnectionID: "self-id"})
	require.NoError(t, h.ctl.Join(context.Background(), "Jazz Combo"))
	defer h.ctl.Leave()

	// The server keys the room by slug; the join frame must carry it.
	joins := h.transport.sentOfType(protocol.TypeJoinRoom)
	require.Len(t, joins, 1)
	assert.Equal(t, "jazz-combo", joins[0].(protocol.JoinRoom).RoomID)

	// Roster broadcasts are stamped with the slug and must be applied.
	h.transport.push(t, protocol.ParticipantsList{
		Type:   protocol.TypeParticipants,
		RoomID: "jazz-combo",
		Participants: []domain.Participant{
			{ID: "self-id", Name: "User self"},
			{ID: "peer-1", Name: "User peer"},
		},
	})
	require.Eventually(t, func() bool {
		return len(h.ctl.Roster()) == 2
	}, time.Second, 10*time.Millisecond)

	// Mute announcements name the slugged room too.
	require.NoError(t, h.ctl.SetMuted(context.Background(), true))
	statuses := h.transport.sentOfType(protocol.TypeMuteStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "jazz-combo", statuses[0].(protocol.MuteStatus).RoomID)
}

func TestJoinWhileNotIdle(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	err := h.ctl.Join(context.Background(), "another")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoinDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	ctl := NewController(Options{
		Dial: func(ctx context.Context, _ string) (Transport, error) {
			return nil, dialErr
		},
	})

	err := ctl.Join(context.Background(), "practice")
	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
	assert.NotErrorIs(t, err, ErrCaptureDenied, "transport failure is not a capture failure")
	assert.Equal(t, StateIdle, ctl.State())
}

func TestJoinCaptureDenied(t *testing.T) {
	transport := newFakeTransport()
	ctl := NewController(Options{
		Dial: func(ctx context.Context, _ string) (Transport, error) {
			return transport, nil
		},
		Capture: func(ctx context.Context) (Capture, error) {
			return nil, ErrCaptureDenied
		},
	})
	transport.push(t, protocol.Welcome{Type: protocol.TypeWelcome, ConnectionID: "self-id"})

	err := ctl.Join(context.Background(), "practice")
	assert.ErrorIs(t, err, ErrCaptureDenied)
	assert.Equal(t, StateIdle, ctl.State())

	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	assert.True(t, closed, "transport released after capture denial")
}

func TestNewcomerOriginatesOutboundCall(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1", UserName: "User peer"})

	require.Eventually(t, func() bool {
		_, ok := h.calls.get("peer-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.transport.sentOfType(protocol.TypeSendingSignal)) == 1
	}, time.Second, 10*time.Millisecond)

	sig := h.transport.sentOfType(protocol.TypeSendingSignal)[0].(protocol.SendingSignal)
	assert.Equal(t, "peer-1", sig.UserToSignal)
	assert.Equal(t, "self-id", sig.CallerID)
	assert.NotEmpty(t, sig.Signal)
}

func TestDuplicateNewcomerIgnored(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1"})
	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1"})

	require.Eventually(t, func() bool {
		return len(h.transport.sentOfType(protocol.TypeSendingSignal)) >= 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.transport.sentOfType(protocol.TypeSendingSignal), 1)
}

func TestCallOfferAnswered(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.CallOffer{
		Type:     protocol.TypeCallOffer,
		CallerID: "peer-2",
		Signal:   json.RawMessage(`{"type":"offer","sdp":"remote"}`),
	})

	require.Eventually(t, func() bool {
		return len(h.transport.sentOfType(protocol.TypeReturnedSignal)) == 1
	}, time.Second, 10*time.Millisecond)

	ret := h.transport.sentOfType(protocol.TypeReturnedSignal)[0].(protocol.ReturnedSignal)
	assert.Equal(t, "peer-2", ret.CallerID)
	_, ok := h.calls.get("peer-2")
	assert.True(t, ok)
}

func TestAnswerAppliedToOutboundCall(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1"})
	require.Eventually(t, func() bool {
		_, ok := h.calls.get("peer-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	h.transport.push(t, protocol.ReturnedSignal{
		Type:     protocol.TypeReturnedSignal,
		CallerID: "peer-1",
		Signal:   json.RawMessage(`{"type":"answer","sdp":"remote"}`),
	})

	require.Eventually(t, func() bool {
		c, _ := h.calls.get("peer-1")
		answered, _, _ := c.stats()
		return answered
	}, time.Second, 10*time.Millisecond)
}

func TestUserLeftClosesCall(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1"})
	require.Eventually(t, func() bool {
		_, ok := h.calls.get("peer-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	h.transport.push(t, protocol.UserLeft{Type: protocol.TypeUserLeft, UserID: "peer-1"})

	require.Eventually(t, func() bool {
		c, _ := h.calls.get("peer-1")
		_, _, closed := c.stats()
		return closed
	}, time.Second, 10*time.Millisecond)
}

func TestRosterTracksParticipantsList(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.ParticipantsList{
		Type:   protocol.TypeParticipants,
		RoomID: "practice",
		Participants: []domain.Participant{
			{ID: "self-id", Name: "User self"},
			{ID: "peer-1", Name: "User peer"},
		},
	})

	require.Eventually(t, func() bool {
		return len(h.ctl.Roster()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestMuteThenUnmuteSwapsTracksInPlace(t *testing.T) {
	h := newJoinedHarness(t)
	defer h.ctl.Leave()

	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1"})
	require.Eventually(t, func() bool {
		_, ok := h.calls.get("peer-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	firstCapture := h.capture
	require.NoError(t, h.ctl.SetMuted(context.Background(), true))
	assert.True(t, firstCapture.isStopped(), "mute stops the capture track")

	require.NoError(t, h.ctl.SetMuted(context.Background(), false))
	assert.NotSame(t, firstCapture, h.capture, "unmute acquires a fresh capture")

	c, _ := h.calls.get("peer-1")
	_, replaced, closed := c.stats()
	assert.Equal(t, 1, replaced, "outbound track swapped in place on the live call")
	assert.False(t, closed, "no renegotiation, the call survives")

	statuses := h.transport.sentOfType(protocol.TypeMuteStatus)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].(protocol.MuteStatus).IsMuted)
	assert.False(t, statuses[1].(protocol.MuteStatus).IsMuted)
}

func TestSetMutedRequiresJoined(t *testing.T) {
	ctl := NewController(Options{})
	assert.ErrorIs(t, ctl.SetMuted(context.Background(), true), ErrNotJoined)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newJoinedHarness(t)

	h.transport.push(t, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: "peer-1"})
	require.Eventually(t, func() bool {
		_, ok := h.calls.get("peer-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	h.ctl.Leave()
	h.ctl.Leave()

	assert.Equal(t, StateIdle, h.ctl.State())
	assert.True(t, h.capture.isStopped())
	c, _ := h.calls.get("peer-1")
	_, _, closed := c.stats()
	assert.True(t, closed)
	assert.Empty(t, h.ctl.Roster())
}

func TestLeaveClearsDirectorySnapshot(t *testing.T) {
	h := newJoinedHarness(t)

	h.transport.push(t, protocol.RoomList{
		Type:  protocol.TypeRoomList,
		Rooms: []domain.Room{{ID: "practice", Name: "Practice"}},
	})
	require.Eventually(t, func() bool {
		return len(h.ctl.Rooms()) == 1
	}, time.Second, 10*time.Millisecond)

	h.ctl.Leave()
	assert.Empty(t, h.ctl.Rooms(), "stale directory dropped with the rest of the visit")
}

func TestTransportLossTriggersCleanup(t *testing.T) {
	h := newJoinedHarness(t)

	// Server side goes away: incoming closes without a Leave call.
	h.transport.Close()

	require.Eventually(t, func() bool {
		return h.ctl.State() == StateIdle
	}, time.Second, 10*time.Millisecond)
	assert.True(t, h.capture.isStopped())
}
