package odp

// Fitness grades how well a flow key matched what the translator
// understands.
type Fitness int

const (
	// FitPerfect keys round-trip without loss.
	FitPerfect Fitness = iota
	// FitTooLittle keys are missing attributes the translator expected.
	FitTooLittle
	// FitTooMuch keys carry attributes the translator does not know.
	FitTooMuch
	// FitError keys are structurally invalid.
	FitError
)

func (f Fitness) String() string {
	switch f {
	case FitPerfect:
		return "no error"
	case FitTooLittle:
		return "too little data"
	case FitTooMuch:
		return "too much data"
	case FitError:
		return "error"
	}
	return "<unknown>"
}

// worst keeps the more severe of two grades. The enum is ordered by
// severity, so this is a plain max.
func worst(a, b Fitness) Fitness {
	if a > b {
		return a
	}
	return b
}
