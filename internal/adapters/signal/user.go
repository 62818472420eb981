package signal

func (g *Gateway) handleWhoAmI(id ConnID) {
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	resp := whoAmIMsg{
		Type:      TypeWhoAmI,
		UserID:    cc.UserID,
		Room:      cc.Room,
		Spectator: cc.Spectator,
	}
	if user, _, ok := g.Dir.Registry.Lookup(cc.UserID); ok {
		resp.Username = user.Username
	}
	g.sendTo(id, resp)
}
