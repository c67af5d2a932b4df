package classifier

import "context"

// Result distress estimate for one transcript
type Result struct {
	Probability float64 `json:"probability"`
	Rationale   string  `json:"rationale"`
	// Available false when the estimate came from the failure policy, not the model
	Available bool `json:"available"`
}

// DistressClassifier estimates the probability that a transcript expresses distress.
// Implementations never fail: an unreachable backend yields the failure-policy result.
type DistressClassifier interface {
	Classify(ctx context.Context, text string) Result
}

// Failure policies
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Unavailable result used when the backend cannot answer.
// "closed" treats the caller as distressed, anything else as not distressed.
func Unavailable(policy, reason string) Result {
	if policy == FailClosed {
		return Result{Probability: 1, Rationale: reason, Available: false}
	}
	return Result{Probability: 0, Rationale: reason, Available: false}
}

// NopClassifier used when no endpoint is configured
type NopClassifier struct{}

func (NopClassifier) Classify(_ context.Context, _ string) Result {
	return Result{Probability: 0, Rationale: "classifier disabled", Available: false}
}
