package signal

func (ctl *SignalWSController) handleWhoAmI(c *WsSignalConn) {
	logSubmit(c, "whoami", ctl.Orch.WhoAmI(c.id))
}
