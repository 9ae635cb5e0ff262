package compensation

// Observer receives engine outcomes. The metrics package implements it.
type Observer interface {
	RecomputeCompleted(updated, skipped int)
	FinalizeCompleted(outcome FinalizeOutcome)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) RecomputeCompleted(int, int)       {}
func (NopObserver) FinalizeCompleted(FinalizeOutcome) {}
