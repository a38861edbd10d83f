package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(c.sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(c.sid)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(c.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *wsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(c, data)
	case "flags":
		ctl.handleFlags(c, data)
	case "data":
		ctl.handleData(c, data)
	case "mute":
		ctl.handleMute(c, data)
	case "ping":
		ctl.handlePing(c)
	case "rename":
		ctl.handleRename(c, data)
	case "whoami":
		ctl.handleWhoAmI(c)
	case "offer":
		ctl.handleOffer(ctx, c, data)
	case "answer":
		ctl.handleAnswer(c, data)
	case "candidate":
		ctl.handleCandidate(c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": reason,
	})
}
