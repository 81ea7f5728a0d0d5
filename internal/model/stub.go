package model

// StubClassifier is the no-checkpoint stand-in. It concentrates most of the
// probability mass on a fixed class and spreads the remainder evenly, so
// responses stay deterministic and well formed without a model artifact.
// Writes in this mode carry no diagnostic value and callers are told the
// service is degraded via the health endpoint.
type StubClassifier struct {
	classes    int
	fixedClass int
}

// NewStubClassifier returns a stub over n classes that always favors
// fixedClass. An out-of-range fixedClass is clamped to 0.
func NewStubClassifier(n, fixedClass int) *StubClassifier {
	if fixedClass < 0 || fixedClass >= n {
		fixedClass = 0
	}
	return &StubClassifier{classes: n, fixedClass: fixedClass}
}

func (s *StubClassifier) Predict(input []float32) ([]float32, error) {
	probs := make([]float32, s.classes)
	if s.classes == 1 {
		probs[0] = 1
		return probs, nil
	}
	rest := float32(0.1) / float32(s.classes-1)
	for i := range probs {
		probs[i] = rest
	}
	probs[s.fixedClass] = 0.9
	return probs, nil
}

func (s *StubClassifier) Classes() int { return s.classes }

func (s *StubClassifier) Close() {}
