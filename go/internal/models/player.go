package models

// Player is the per-identity document stored under players/{uid}.
type Player struct {
	RetainedSnippets map[string]bool `json:"retainedSnippets,omitempty"`
}

// SetRetained records whether the player keeps the snippet for round.
func (p *Player) SetRetained(round int, kept bool) {
	if p.RetainedSnippets == nil {
		p.RetainedSnippets = make(map[string]bool)
	}
	p.RetainedSnippets[RoundField(round)] = kept
}
