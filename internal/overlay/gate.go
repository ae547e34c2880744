package overlay

// CinematicGate hides the passive overlays. It has no effect on replay
// firing, live delivery or reaction submission.
type CinematicGate struct {
	cell *Cell[bool]
}

func NewCinematicGate() *CinematicGate {
	return &CinematicGate{cell: NewCell(false)}
}

func (g *CinematicGate) Enabled() bool {
	return g.cell.Get()
}

func (g *CinematicGate) Set(enabled bool) {
	g.cell.Set(enabled)
}

func (g *CinematicGate) Toggle() bool {
	g.cell.Set(!g.cell.Get())
	return g.cell.Get()
}

func (g *CinematicGate) Subscribe(fn func(bool)) func() {
	return g.cell.Subscribe(fn)
}
