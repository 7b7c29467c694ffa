package mixer

// MixTrack is one entry of a mixdown recipe.
type MixTrack struct {
	Name   string
	Volume float64
	Mute   bool
}

// Mix is the full mixdown recipe submitted for export. Solo is "" when no
// track is solo'd.
type Mix struct {
	SessionPath string
	Tracks      []MixTrack
	Solo        string
}

// Audible reports whether the recipe would render any sound, using the same
// rules as EffectiveGain.
func (m Mix) Audible() bool {
	for _, t := range m.Tracks {
		if EffectiveGain(Track{Name: t.Name, Volume: t.Volume, Muted: t.Mute}, m.Solo) > 0 {
			return true
		}
	}
	return false
}
