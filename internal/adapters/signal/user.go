package signal

import (
	"encoding/json"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	conn *wsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	user, err := ctl.Orch.Registry.UpdateUsername(conn.token, p.Name)
	if err != nil {
		ctl.sendError(conn, "invalid_name")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(conn.sid)).Str("name", p.Name).Msg("rename")
	ctl.Orch.Rename(conn.sid, user)
	ctl.handleWhoAmI(conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	conn *wsSignalConn,
) {
	user := conn.user(ctl)

	resp := struct {
		Type     string            `json:"type"`
		Session  string            `json:"session"`
		Username string            `json:"username"`
		RoomName domain.RoomName   `json:"room_name,omitempty"`
		State    session.StateView `json:"state"`
		Sessions int               `json:"user_sessions"`
	}{
		Type:     "whoami",
		Session:  string(conn.sid),
		Username: user.Username,
	}
	if s, ok := ctl.Orch.Registry.Get(conn.sid); ok {
		resp.State = s.State().Snapshot()
		if uid, ok := s.State().User(); ok {
			resp.Sessions = len(ctl.Orch.Registry.SessionsOfUser(uid))
		}
		if rid, ok := s.State().Room(); ok {
			if room, ok := ctl.Orch.Rooms.Get(rid); ok {
				resp.RoomName = room.Name
			}
		}
	}
	ctl.sendJSON(conn, resp)
}
