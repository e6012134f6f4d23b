package transform

// OutcomeKind classifies the normalized result of a transform.
type OutcomeKind int

const (
	// OutcomeSuccess means the transform produced an artifact.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeEmpty means the transform ran correctly but matched nothing.
	OutcomeEmpty
	// OutcomeFailure means the transform failed.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of invoking a transform.
type Outcome struct {
	Kind OutcomeKind
	// Artifact is the produced file inside the session directory. Set only
	// for OutcomeSuccess.
	Artifact string
	// Message is the captured error text. Set only for OutcomeFailure.
	Message string
}

// Success returns a successful outcome carrying artifact.
func Success(artifact string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Artifact: artifact}
}

// SuccessEmpty returns the outcome of a valid execution with zero results.
func SuccessEmpty() Outcome {
	return Outcome{Kind: OutcomeEmpty}
}

// Failure returns a failed outcome with the given message.
func Failure(message string) Outcome {
	return Outcome{Kind: OutcomeFailure, Message: message}
}

// Succeeded reports whether the outcome is a success, with or without artifact.
func (o Outcome) Succeeded() bool {
	return o.Kind != OutcomeFailure
}
