package game

// applyAction resolves one player's action for the current tick.
// Movement is blocked by walls, destructibles, bombs and board edges; walking
// into residual fire is allowed and is not lethal by itself. Two players may
// end up on the same cell.
func (e *Engine) applyAction(playerID int, action Action) {
	p, ok := e.State.Players[playerID]
	if !ok || !p.Alive {
		return
	}

	if action == PlaceBomb {
		e.placeBomb(p)
		return
	}

	dx, dy, ok := action.delta()
	if !ok {
		// Stay
		return
	}

	newPos := Position{X: p.Pos.X + dx, Y: p.Pos.Y + dy}
	if !e.State.inBounds(newPos) {
		return
	}

	switch e.State.tile(newPos) {
	case Empty, FireTile:
		p.Pos = newPos
	}
}
