package mesh

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// activeCall is one media call to a remote participant, as the
// controller's bookkeeping sees it.
type activeCall interface {
	ApplyAnswer(signal json.RawMessage) error
	ReplaceAudio(track webrtc.TrackLocal) error
	Close()
}

// callOps creates calls. The handshake payloads it returns and accepts
// are complete session descriptions, opaque to the relay.
type callOps interface {
	Outbound(remoteID string, track webrtc.TrackLocal) (activeCall, json.RawMessage, error)
	Inbound(remoteID string, track webrtc.TrackLocal, offer json.RawMessage) (activeCall, json.RawMessage, error)
}

// DefaultRTCConfig returns the peer connection configuration used when
// the caller supplies none.
func DefaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// pionCalls builds real pion peer connections. Descriptions are
// exchanged non-trickle: local gathering completes before the SDP is
// handed back, so one offer and one answer settle the call.
type pionCalls struct {
	cfg webrtc.Configuration
}

func (f pionCalls) Outbound(remoteID string, track webrtc.TrackLocal) (activeCall, json.RawMessage, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("new peer connection: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("add track: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	raw, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("marshal offer: %w", err)
	}
	return newCall(remoteID, pc, sender), raw, nil
}

func (f pionCalls) Inbound(remoteID string, track webrtc.TrackLocal, offer json.RawMessage) (activeCall, json.RawMessage, error) {
	var remote webrtc.SessionDescription
	if err := json.Unmarshal(offer, &remote); err != nil {
		return nil, nil, fmt.Errorf("parse offer: %w", err)
	}

	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("new peer connection: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("add track: %w", err)
	}

	if err := pc.SetRemoteDescription(remote); err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	raw, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("marshal answer: %w", err)
	}
	return newCall(remoteID, pc, sender), raw, nil
}

// call pairs a peer connection with the sender carrying local audio.
type call struct {
	remoteID string
	pc       *webrtc.PeerConnection
	sender   *webrtc.RTPSender
	once     sync.Once
}

func newCall(remoteID string, pc *webrtc.PeerConnection, sender *webrtc.RTPSender) *call {
	c := &call{remoteID: remoteID, pc: pc, sender: sender}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "mesh").Str("peer", remoteID).Str("state", s.String()).Msg("peer state")
	})
	return c
}

func (c *call) ApplyAnswer(signal json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(signal, &answer); err != nil {
		return fmt.Errorf("parse answer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// ReplaceAudio swaps the outbound track in place. No renegotiation:
// the sender keeps its negotiated parameters.
func (c *call) ReplaceAudio(track webrtc.TrackLocal) error {
	if err := c.sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return nil
}

func (c *call) Close() {
	c.once.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", c.remoteID).Msg("close peer connection")
		}
	})
}
