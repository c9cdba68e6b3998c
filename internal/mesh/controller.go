// Package mesh is the client-side peer-mesh controller: it joins one
// audio room through the signaling server and keeps exactly one media
// call per remote participant, tearing everything down on leave.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/yaswanth-hue/jamroom/internal/domain"
	"github.com/yaswanth-hue/jamroom/internal/protocol"
)

// State of one room visit. Error paths fall back to StateIdle after
// best-effort cleanup; nothing is retried automatically.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateMicGranted
	StateJoined
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateMicGranted:
		return "mic-granted"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyJoined = errors.New("controller is not idle")
	ErrNotJoined     = errors.New("controller has not joined a room")
)

const welcomeWait = 10 * time.Second

// Options configures a Controller. Zero fields get defaults; the
// hooks exist so tests can run the state machine without sockets or
// media devices.
type Options struct {
	ServerURL string
	RTC       *webrtc.Configuration
	Dial      Dialer
	Capture   CaptureFunc
}

type Controller struct {
	serverURL string
	dial      Dialer
	acquire   CaptureFunc
	calls     callOps

	mu        sync.Mutex
	state     State
	transport Transport
	capture   Capture
	selfID    string
	roomID    string
	muted     bool
	peers     map[string]activeCall
	roster    []domain.Participant
	rooms     []domain.Room
}

func NewController(opts Options) *Controller {
	rtc := DefaultRTCConfig()
	if opts.RTC != nil {
		rtc = *opts.RTC
	}
	dial := opts.Dial
	if dial == nil {
		dial = DialSignaling
	}
	acquire := opts.Capture
	if acquire == nil {
		acquire = NewSampleCapture
	}
	return &Controller{
		serverURL: opts.ServerURL,
		dial:      dial,
		acquire:   acquire,
		calls:     pionCalls{cfg: rtc},
		peers:     make(map[string]activeCall),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Roster is the last participants-list received for the joined room.
func (c *Controller) Roster() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Participant(nil), c.roster...)
}

// Rooms is the last room directory snapshot received.
func (c *Controller) Rooms() []domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Room(nil), c.rooms...)
}

// Join walks Idle -> Connecting -> MicGranted -> Joined. A transport
// failure and a capture failure are distinct terminal errors; both
// leave the controller Idle again.
func (c *Controller) Join(ctx context.Context, roomID string) error {
	// The server keys rooms by slug and stamps broadcasts with it, so
	// normalize here; callers may pass the display form.
	roomID = string(domain.Slug(roomID))

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.state = StateConnecting
	c.mu.Unlock()

	t, err := c.dial(ctx, c.serverURL)
	if err != nil {
		c.toIdle()
		return fmt.Errorf("signaling connect: %w", err)
	}

	selfID, err := awaitWelcome(ctx, t)
	if err != nil {
		t.Close()
		c.toIdle()
		return fmt.Errorf("signaling connect: %w", err)
	}

	capture, err := c.acquire(ctx)
	if err != nil {
		t.Close()
		c.toIdle()
		if errors.Is(err, ErrCaptureDenied) {
			return err
		}
		return errors.Join(ErrCaptureDenied, err)
	}

	c.mu.Lock()
	c.transport = t
	c.capture = capture
	c.selfID = selfID
	c.state = StateMicGranted
	c.mu.Unlock()

	if err := t.Send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: roomID}); err != nil {
		capture.Stop()
		t.Close()
		c.toIdle()
		return fmt.Errorf("join room: %w", err)
	}

	c.mu.Lock()
	c.roomID = roomID
	c.state = StateJoined
	c.mu.Unlock()

	log.Info().Str("module", "mesh").Str("room", roomID).Str("self", selfID).Msg("joined")
	go c.run(t)
	return nil
}

// awaitWelcome reads frames until the server announces this
// connection's id.
func awaitWelcome(ctx context.Context, t Transport) (string, error) {
	timeout := time.NewTimer(welcomeWait)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			return "", errors.New("no welcome from server")
		case data, ok := <-t.Incoming():
			if !ok {
				return "", errors.New("signaling closed during handshake")
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil || env.Type != protocol.TypeWelcome {
				continue
			}
			var w protocol.Welcome
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("bad welcome: %w", err)
			}
			return w.ConnectionID, nil
		}
	}
}

func (c *Controller) run(t Transport) {
	for data := range t.Incoming() {
		c.handle(data)
	}
	c.mu.Lock()
	interrupted := c.state == StateJoined
	c.mu.Unlock()
	if interrupted {
		log.Warn().Str("module", "mesh").Msg("signaling transport lost")
		c.Leave()
	}
}

func (c *Controller) handle(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("bad frame")
		return
	}

	switch env.Type {
	case protocol.TypeRoomList:
		var p protocol.RoomList
		if json.Unmarshal(data, &p) == nil {
			c.mu.Lock()
			c.rooms = p.Rooms
			c.mu.Unlock()
		}
	case protocol.TypeParticipants:
		var p protocol.ParticipantsList
		if json.Unmarshal(data, &p) == nil {
			c.mu.Lock()
			if p.RoomID == c.roomID {
				c.roster = p.Participants
			}
			c.mu.Unlock()
		}
	case protocol.TypeUserJoined:
		var p protocol.UserJoined
		if json.Unmarshal(data, &p) == nil {
			c.onUserJoined(p)
		}
	case protocol.TypeCallOffer:
		var p protocol.CallOffer
		if json.Unmarshal(data, &p) == nil {
			c.onCallOffer(p)
		}
	case protocol.TypeReturnedSignal:
		var p protocol.ReturnedSignal
		if json.Unmarshal(data, &p) == nil {
			c.onAnswer(p)
		}
	case protocol.TypeUserLeft:
		var p protocol.UserLeft
		if json.Unmarshal(data, &p) == nil {
			c.onUserLeft(p)
		}
	}
}

// onUserJoined originates the outbound call to a newcomer and routes
// its offer through the relay.
func (c *Controller) onUserJoined(p protocol.UserJoined) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined || p.UserID == c.selfID {
		return
	}
	if _, exists := c.peers[p.UserID]; exists {
		return
	}

	call, offer, err := c.calls.Outbound(p.UserID, c.capture.Track())
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", p.UserID).Msg("outbound call")
		return
	}
	c.peers[p.UserID] = call

	err = c.transport.Send(protocol.SendingSignal{
		Type:         protocol.TypeSendingSignal,
		UserToSignal: p.UserID,
		CallerID:     c.selfID,
		Signal:       offer,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", p.UserID).Msg("send offer")
		call.Close()
		delete(c.peers, p.UserID)
	}
}

// onCallOffer answers an inbound call with the local capture attached.
func (c *Controller) onCallOffer(p protocol.CallOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return
	}
	// A repeated offer from the same caller supersedes the old call.
	if old, exists := c.peers[p.CallerID]; exists {
		old.Close()
		delete(c.peers, p.CallerID)
	}

	call, answer, err := c.calls.Inbound(p.CallerID, c.capture.Track(), p.Signal)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", p.CallerID).Msg("inbound call")
		return
	}
	c.peers[p.CallerID] = call

	err = c.transport.Send(protocol.ReturnedSignal{
		Type:     protocol.TypeReturnedSignal,
		Signal:   answer,
		CallerID: p.CallerID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", p.CallerID).Msg("send answer")
		call.Close()
		delete(c.peers, p.CallerID)
	}
}

// onAnswer completes an outbound call. A call that cannot apply its
// answer is dropped from bookkeeping, not reconnected.
func (c *Controller) onAnswer(p protocol.ReturnedSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.peers[p.CallerID]
	if !ok {
		return
	}
	if err := call.ApplyAnswer(p.Signal); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", p.CallerID).Msg("apply answer")
		call.Close()
		delete(c.peers, p.CallerID)
	}
}

func (c *Controller) onUserLeft(p protocol.UserLeft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call, ok := c.peers[p.UserID]; ok {
		call.Close()
		delete(c.peers, p.UserID)
		log.Info().Str("module", "mesh").Str("peer", p.UserID).Msg("peer left, call closed")
	}
}

// SetMuted stops the capture on mute; on unmute it acquires a fresh
// capture and swaps the outbound track into every live call in place.
// Either way the new state is announced to the room.
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return ErrNotJoined
	}
	if muted == c.muted {
		return nil
	}

	if muted {
		c.capture.Stop()
	} else {
		capture, err := c.acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrCaptureDenied) {
				return err
			}
			return errors.Join(ErrCaptureDenied, err)
		}
		c.capture = capture
		for id, call := range c.peers {
			if err := call.ReplaceAudio(capture.Track()); err != nil {
				log.Error().Err(err).Str("module", "mesh").Str("peer", id).Msg("replace audio")
			}
		}
	}
	c.muted = muted

	return c.transport.Send(protocol.MuteStatus{
		Type:    protocol.TypeMuteStatus,
		RoomID:  c.roomID,
		IsMuted: muted,
	})
}

// Leave tears the visit down: capture, calls, transport, in that
// order, each step independent of the others' outcomes. Safe to call
// any number of times, including after a disconnect already cleaned up.
func (c *Controller) Leave() {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateLeaving {
		c.mu.Unlock()
		return
	}
	c.state = StateLeaving
	t := c.transport
	capture := c.capture
	peers := c.peers
	c.transport = nil
	c.capture = nil
	c.peers = make(map[string]activeCall)
	c.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	for _, call := range peers {
		call.Close()
	}
	if t != nil {
		t.Close()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.selfID = ""
	c.roomID = ""
	c.muted = false
	c.roster = nil
	c.rooms = nil
	c.mu.Unlock()
	log.Info().Str("module", "mesh").Msg("left room")
}

func (c *Controller) toIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}
