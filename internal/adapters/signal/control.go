package signal

func (g *Gateway) handlePing(id ConnID) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: TypePong,
	}
	g.sendTo(id, resp)
}
