package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Relay/internal/adapters/rtc"
	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(c core.SignalConnection, ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	ctl.sendJSON(c, resp)
}

func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	conn *wsSignalConn,
	data []byte,
) {
	type offerPayload struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	sess, ok := ctl.Orch.Registry.Get(conn.sid)
	if !ok {
		return
	}
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}

	// Client-side renegotiation on an existing connection.
	if mc := sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(offer)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
			ctl.sendError(conn, "bad_offer")
			return
		}
		ctl.sendJSON(conn, map[string]string{"type": "answer", "sdp": answer.SDP})
		return
	}

	wc, err := rtc.NewWebRTCConnection(ctl.opts.WebRTC, conn.sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(conn, ci)
	})

	ctl.Orch.BindMediaHandlers(wc, conn.sid)

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		wc.Close()
		ctl.sendError(conn, "bad_offer")
		return
	}

	ctl.sendJSON(conn, map[string]string{
		"type": "answer",
		"sdp":  answer.SDP,
	})
	ctl.Orch.AttachMedia(conn.sid, wc)
}

func (ctl *SignalWSController) handleAnswer(
	conn *wsSignalConn,
	data []byte,
) {
	var p struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	sess, ok := ctl.Orch.Registry.Get(conn.sid)
	if !ok || sess.Media() == nil {
		log.Warn().Str("module", "signal").Str("sid", string(conn.sid)).Msg("answer: no media connection")
		return
	}
	if err := sess.Media().ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(conn.sid)).Msg("apply answer")
	}
}

// handleMute pauses or resumes the media this session receives from another one.
func (ctl *SignalWSController) handleMute(
	conn *wsSignalConn,
	data []byte,
) {
	var p struct {
		Type    string `json:"type"`
		Session string `json:"session"`
		Muted   bool   `json:"muted"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Session == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Orch.SetMuted(conn.sid, core.SessionID(p.Session), p.Muted); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(conn.sid)).Msg("mute")
		ctl.sendError(conn, "not_subscribed")
		return
	}
	ctl.sendJSON(conn, struct {
		Type    string `json:"type"`
		Session string `json:"session"`
		Muted   bool   `json:"muted"`
	}{"muted", p.Session, p.Muted})
}

// renegotiate sends a fresh server offer after tracks were added to sid.
func (ctl *SignalWSController) renegotiate(sid core.SessionID) {
	sess, ok := ctl.Orch.Registry.Get(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}
	offer, err := mc.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("renegotiate offer")
		return
	}
	ctl.sendJSON(sess.Signal(), map[string]string{
		"type": "offer",
		"sdp":  offer.SDP,
	})
}

func (ctl *SignalWSController) handleCandidate(
	conn *wsSignalConn,
	data []byte,
) {
	type candidatePayload struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	sess, ok := ctl.Orch.Registry.Get(conn.sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(conn.sid)).Msg("candidate: no session for")
		return
	}
	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(conn.sid)).Msg("candidate: no media connection for")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
