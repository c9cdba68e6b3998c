package signal

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/yaswanth-hue/jamroom/internal/domain"
	"github.com/yaswanth-hue/jamroom/internal/protocol"
)

func (ctl *Controller) handleCreateRoom(connID domain.ConnectionID, data []byte) {
	var p protocol.CreateRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad create-room payload")
		return
	}
	name := strings.TrimSpace(p.RoomName)
	if name == "" {
		return
	}
	if !ctl.creates.Allow(connID) {
		log.Warn().Str("module", "signal").Str("conn", string(connID)).Msg("create-room rate limited")
		return
	}
	if utf8.RuneCountInString(name) > domain.MaxRoomNameLen {
		name = string([]rune(name)[:domain.MaxRoomNameLen])
	}

	id := domain.Slug(name)
	_, created := ctl.reg.EnsureRoom(id, name)
	log.Info().Str("module", "signal").Str("conn", string(connID)).
		Str("room", string(id)).Bool("created", created).Msg("create-room")
	if created {
		ctl.broadcastRoomList()
	}
}

func (ctl *Controller) handleJoin(connID domain.ConnectionID, c *wsConn, data []byte) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join-room payload")
		return
	}
	// Slugging here keeps "Practice" and "practice" on one room even
	// when a client passes the display form instead of the id.
	roomID := domain.Slug(p.RoomID)
	if roomID == "" {
		return
	}

	// A connection holds at most one membership. Leaving the previous
	// room here keeps its members' rosters honest before the re-join.
	if oldRoom, rest, ok := ctl.reg.RemoveParticipant(connID); ok {
		ctl.notifyUserLeft(rest, connID)
		log.Info().Str("module", "signal").Str("conn", string(connID)).
			Str("room", string(oldRoom)).Msg("left previous room on join")
	}

	name := domain.DisplayName(connID)
	ctl.reg.AddParticipant(roomID, connID, name)
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", string(roomID)).Msg("join-room")

	roster, _ := ctl.reg.Participants(roomID)
	ctl.sendJSON(c, protocol.ParticipantsList{
		Type:         protocol.TypeParticipants,
		RoomID:       string(roomID),
		Participants: roster,
	})

	joined := protocol.UserJoined{
		Type:     protocol.TypeUserJoined,
		UserID:   string(connID),
		UserName: name,
	}
	for _, member := range roster {
		if member.ID == connID {
			continue
		}
		if target, ok := ctl.lookup(member.ID); ok {
			ctl.sendJSON(target, joined)
		}
	}

	ctl.broadcastRoomList()
}

func (ctl *Controller) handleMuteStatus(connID domain.ConnectionID, data []byte) {
	var p protocol.MuteStatus
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad mute-status payload")
		return
	}
	roomID := domain.Slug(p.RoomID)
	if !ctl.reg.SetMuted(roomID, connID, p.IsMuted) {
		// Unknown room or participant: a no-op, not an error.
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(connID)).
		Str("room", string(roomID)).Bool("muted", p.IsMuted).Msg("mute-status")
	ctl.broadcastParticipants(roomID)
}

// handleSendingSignal relays a handshake offer to its target. Routing
// is purely by connection id; an unknown target drops the frame.
func (ctl *Controller) handleSendingSignal(connID domain.ConnectionID, data []byte) {
	var p protocol.SendingSignal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad sending-signal payload")
		return
	}
	target, ok := ctl.lookup(domain.ConnectionID(p.UserToSignal))
	if !ok {
		log.Debug().Str("module", "signal").Str("from", string(connID)).
			Str("target", p.UserToSignal).Msg("signal target not connected, dropped")
		return
	}
	ctl.sendJSON(target, protocol.CallOffer{
		Type:     protocol.TypeCallOffer,
		Signal:   p.Signal,
		CallerID: p.CallerID,
	})
}

// handleReturnedSignal relays a handshake answer back to the caller,
// tagged with the answering connection's id.
func (ctl *Controller) handleReturnedSignal(connID domain.ConnectionID, data []byte) {
	var p protocol.ReturnedSignal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad returned-signal payload")
		return
	}
	target, ok := ctl.lookup(domain.ConnectionID(p.CallerID))
	if !ok {
		log.Debug().Str("module", "signal").Str("from", string(connID)).
			Str("target", p.CallerID).Msg("answer target not connected, dropped")
		return
	}
	ctl.sendJSON(target, protocol.ReturnedSignal{
		Type:     protocol.TypeReturnedSignal,
		Signal:   p.Signal,
		CallerID: string(connID),
	})
}

// onDisconnect removes the connection from whichever room holds it,
// tells the remaining members, and refreshes the directory. Dropping
// the last participant deletes the room in the same pass.
func (ctl *Controller) onDisconnect(connID domain.ConnectionID) {
	roomID, rest, ok := ctl.reg.RemoveParticipant(connID)
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", string(roomID)).Msg("removed on disconnect")
	ctl.notifyUserLeft(rest, connID)
	ctl.broadcastRoomList()
}

func (ctl *Controller) notifyUserLeft(members []domain.Participant, gone domain.ConnectionID) {
	msg := protocol.UserLeft{Type: protocol.TypeUserLeft, UserID: string(gone)}
	for _, member := range members {
		if target, ok := ctl.lookup(member.ID); ok {
			ctl.sendJSON(target, msg)
		}
	}
}

// broadcastRoomList sends the full directory snapshot to every
// connection, roomed or not.
func (ctl *Controller) broadcastRoomList() {
	msg := protocol.RoomList{Type: protocol.TypeRoomList, Rooms: ctl.reg.ListRooms()}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("room-list marshal")
		return
	}
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	for _, c := range ctl.conns {
		_ = c.TrySend(b)
	}
}

// broadcastParticipants sends one room's roster to all its members.
func (ctl *Controller) broadcastParticipants(roomID domain.RoomID) {
	roster, ok := ctl.reg.Participants(roomID)
	if !ok {
		return
	}
	msg := protocol.ParticipantsList{
		Type:         protocol.TypeParticipants,
		RoomID:       string(roomID),
		Participants: roster,
	}
	for _, member := range roster {
		if target, ok := ctl.lookup(member.ID); ok {
			ctl.sendJSON(target, msg)
		}
	}
}
