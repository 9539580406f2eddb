package game

// placeBomb places a bomb at the player's current position.
// A cell holds at most one bomb; there is no per-player limit.
func (e *Engine) placeBomb(p *Player) {
	if e.State.bombAt(p.Pos) != nil {
		return
	}

	e.State.Bombs = append(e.State.Bombs, &Bomb{
		OwnerID: p.ID,
		Pos:     p.Pos,
		Timer:   e.Rules.BombTimer,
		Radius:  e.Rules.BombRadius,
	})

	// Shows BOMB even over a live fire marker, so the cell blocks movement.
	e.State.setTile(p.Pos, BombTile)
}

// tickBombs decrements every bomb timer and detonates, in placement order,
// the bombs that reach zero. It returns the cells set on fire this tick.
func (e *Engine) tickBombs() map[Position]bool {
	ignited := make(map[Position]bool)

	remaining := make([]*Bomb, 0, len(e.State.Bombs))
	var detonating []*Bomb
	for _, b := range e.State.Bombs {
		b.Timer--
		if b.Timer <= 0 {
			detonating = append(detonating, b)
		} else {
			remaining = append(remaining, b)
		}
	}
	// Removed before exploding so the origin cell does not revert to BOMB.
	e.State.Bombs = remaining

	for _, b := range detonating {
		e.explode(b, ignited)
	}
	return ignited
}

// explode processes a bomb explosion in the 4 cardinal directions.
// Walls stop the blast untouched; a destructible burns and absorbs it; empty,
// burning or bomb cells burn and let it through. Other bombs caught in the
// blast are not set off.
func (e *Engine) explode(bomb *Bomb, ignited map[Position]bool) {
	// Fire at bomb center
	e.ignite(bomb.Pos, ignited)

	dirs := []Position{
		{X: -1, Y: 0}, // Left
		{X: 1, Y: 0},  // Right
		{X: 0, Y: -1}, // Up
		{X: 0, Y: 1},  // Down
	}

	for _, d := range dirs {
		for dist := 1; dist <= bomb.Radius; dist++ {
			pos := Position{
				X: bomb.Pos.X + d.X*dist,
				Y: bomb.Pos.Y + d.Y*dist,
			}

			if !e.State.inBounds(pos) {
				break
			}

			tile := e.State.tile(pos)
			if tile == Wall {
				break
			}

			e.ignite(pos, ignited)

			if tile == Destructible {
				break
			}
		}
	}
}

// ignite marks pos as burning, refreshing an existing marker rather than
// stacking a second one on the same cell.
func (e *Engine) ignite(pos Position, ignited map[Position]bool) {
	e.State.setTile(pos, FireTile)
	ignited[pos] = true

	if f := e.State.fireAt(pos); f != nil {
		f.TTL = e.Rules.FireTTL
		return
	}
	e.State.Fires = append(e.State.Fires, &Fire{Pos: pos, TTL: e.Rules.FireTTL})
}

// killPlayersIn marks dead every living player standing on a cell that caught
// fire this tick. Players already standing in older fire are left alone.
func (e *Engine) killPlayersIn(ignited map[Position]bool) {
	for _, id := range e.playerIDs() {
		p := e.State.Players[id]
		if p.Alive && ignited[p.Pos] {
			p.Alive = false
		}
	}
}

// ageFires decrements every fire marker; expired markers give their cell back
// to the bomb still sitting there, or to Empty.
func (e *Engine) ageFires() {
	remaining := make([]*Fire, 0, len(e.State.Fires))
	for _, f := range e.State.Fires {
		f.TTL--
		if f.TTL > 0 {
			remaining = append(remaining, f)
			continue
		}
		if e.State.tile(f.Pos) != FireTile {
			continue
		}
		if e.State.bombAt(f.Pos) != nil {
			// Deliberate: a live bomb under expired fire is shown again.
			e.State.setTile(f.Pos, BombTile)
		} else {
			e.State.setTile(f.Pos, Empty)
		}
	}
	e.State.Fires = remaining
}
