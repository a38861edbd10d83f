package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	conn *wsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type          string `json:"type"`
		Room          string `json:"room"`
		Name          string `json:"name,omitempty"`
		Notifications bool   `json:"notifications"`
		Data          bool   `json:"data"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	user := conn.user(ctl)
	if !ctl.Limiter.Allow(user.ID) {
		log.Warn().Str("module", "signal").Str("sid", string(conn.sid)).Str("user", user.ID.String()).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}

	if p.Name != "" {
		if u, err := ctl.Orch.Registry.UpdateUsername(conn.token, p.Name); err == nil {
			user = u
			log.Info().Str("module", "signal").Str("sid", string(conn.sid)).Str("name", p.Name).Msg("rename on join")
		}
	}

	room, err := ctl.Orch.Join(conn.sid, user, domain.RoomName(p.Room), orch.JoinOptions{
		Notify: p.Notifications,
		Data:   p.Data,
	})
	switch {
	case errors.Is(err, orch.ErrAlreadyJoined):
		ctl.sendError(conn, "already_joined")
		return
	case errors.Is(err, domain.ErrRoomNameEmpty), errors.Is(err, domain.ErrRoomNameTooLong):
		ctl.sendError(conn, "invalid_room")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("sid", string(conn.sid)).Msg("join")
		ctl.sendError(conn, "join_failed")
		return
	}

	members := ctl.Orch.Registry.MembersOfRoom(room.ID)
	type memberDTO struct {
		Session  string        `json:"session"`
		User     domain.UserID `json:"user"`
		Username string        `json:"username"`
	}
	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		uid, _ := m.State().User()
		out = append(out, memberDTO{Session: string(m.ID()), User: uid, Username: m.Username()})
	}

	ctl.sendJSON(conn, struct {
		Type     string          `json:"type"`
		Room     domain.RoomID   `json:"room"`
		RoomName domain.RoomName `json:"room_name"`
		Members  []memberDTO     `json:"members"`
	}{
		Type:     "room_state",
		Room:     room.ID,
		RoomName: room.Name,
		Members:  out,
	})
}

func (ctl *SignalWSController) handleFlags(
	conn *wsSignalConn,
	data []byte,
) {
	var p struct {
		Type          string `json:"type"`
		Notifications *bool  `json:"notifications"`
		Data          *bool  `json:"data"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.SetFlags(conn.sid, p.Notifications, p.Data); err != nil {
		ctl.sendError(conn, "unknown_session")
		return
	}
	ctl.handleWhoAmI(conn)
}

func (ctl *SignalWSController) handleData(
	conn *wsSignalConn,
	data []byte,
) {
	var p struct {
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Body) == 0 {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Orch.OnData(conn.sid, p.Body)
}
