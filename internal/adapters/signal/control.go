package signal

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	logSubmit(c, "ping", ctl.Orch.Ping(c.id))
}
