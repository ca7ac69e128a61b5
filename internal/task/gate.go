package task

import "sync"

// gate serializes periodic reclamation against active pipeline runs:
// reclamation starts only when no run is active, and new submissions
// wait out an in-progress reclamation pass before creating their task.
type gate struct {
	mu         sync.Mutex
	cond       *sync.Cond
	active     int
	reclaiming bool
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// enter blocks while reclamation is in progress, then registers an
// active run.
func (g *gate) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.reclaiming {
		g.cond.Wait()
	}
	g.active++
}

// leave deregisters a run and wakes a waiting reclaimer.
func (g *gate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
	g.cond.Broadcast()
}

// tryBeginReclaim flips the gate into reclamation mode if and only if
// no run is active.
func (g *gate) tryBeginReclaim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 || g.reclaiming {
		return false
	}
	g.reclaiming = true
	return true
}

// endReclaim releases the gate and wakes blocked submissions.
func (g *gate) endReclaim() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclaiming = false
	g.cond.Broadcast()
}
