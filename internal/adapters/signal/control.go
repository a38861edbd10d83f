package signal

func (ctl *SignalWSController) handlePing(
	conn *wsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}
