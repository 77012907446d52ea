package state

// HomingStep enumerates the reference-search sequence an axis runs while
// MotionState is Homing. Modeled as its own step enumeration in the same
// idiom as PowerState's PoweringOn/PoweringOff, per the original's
// evo_control_unit/src/command/homing.rs, which the distilled spec
// collapses to a single MotionState variant.
type HomingStep uint8

const (
	HomingSeekReference HomingStep = iota
	HomingDecelerate
	HomingLatch
	HomingZeroOrigin
	HomingComplete
)

// HomingSequence tracks progress through the per-step homing search and its
// per-step timeout.
type HomingSequence struct {
	Step        HomingStep
	StepCycles  uint32
	LatchedPos  float64
	HomingVelocity float64
	StepTimeout [5]uint32
}

// NewHomingSequence starts a sequence at the search velocity configured for
// the axis.
func NewHomingSequence(homingVelocity float64, stepTimeout [5]uint32) *HomingSequence {
	return &HomingSequence{HomingVelocity: homingVelocity, StepTimeout: stepTimeout}
}

// Tick advances the elapsed-cycle counter for the current step.
func (h *HomingSequence) Tick() { h.StepCycles++ }

// TimedOut reports whether the current step has exceeded its budget.
func (h *HomingSequence) TimedOut() bool { return h.StepCycles > h.StepTimeout[h.Step] }

// ReferenceEdgeDetected advances from SeekReference to Decelerate on a
// rising edge of the reference switch; it is a no-op in any other step.
func (h *HomingSequence) ReferenceEdgeDetected() {
	if h.Step == HomingSeekReference {
		h.Step = HomingDecelerate
		h.StepCycles = 0
	}
}

// Standstill advances from Decelerate to Latch once the axis has come to
// rest after detecting the reference edge.
func (h *HomingSequence) Standstill(actualPosition float64) {
	if h.Step == HomingDecelerate {
		h.Step = HomingLatch
		h.LatchedPos = actualPosition
		h.StepCycles = 0
	}
}

// Advance moves to the next step (Latch -> ZeroOrigin -> Complete) and stays
// at Complete. No step changes the actual-position origin; LatchedPos is
// only recorded.
func (h *HomingSequence) Advance() {
	if h.Step < HomingComplete {
		h.Step++
		h.StepCycles = 0
	}
}

// Done reports whether the sequence has reached Complete.
func (h *HomingSequence) Done() bool { return h.Step == HomingComplete }
