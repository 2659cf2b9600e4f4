package phigate

// QualityReport holds the quality sub-scores of one record.
// All scores are in [0,1].
type QualityReport struct {
	CompletenessScore float64  `json:"completeness_score"`
	ConsistencyScore  float64  `json:"consistency_score"`
	AccuracyScore     float64  `json:"accuracy_score"`
	OverallScore      float64  `json:"overall_score"`
	Issues            []string `json:"issues"`
}

// Clone returns a copy of the report that shares no slices with r.
func (r QualityReport) Clone() QualityReport {
	r.Issues = append([]string{}, r.Issues...)
	return r
}

// QualityWeights are the relative weights of the sub-scores in the
// overall score. They are normalized before use.
type QualityWeights struct {
	Completeness float64 `json:"completeness" mapstructure:"completeness"`
	Consistency  float64 `json:"consistency" mapstructure:"consistency"`
	Accuracy     float64 `json:"accuracy" mapstructure:"accuracy"`
}

// DefaultQualityWeights weighs the three sub-scores equally.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{Completeness: 1, Consistency: 1, Accuracy: 1}
}

// Normalize returns the weights scaled to sum to one.
func (w QualityWeights) Normalize() (QualityWeights, error) {
	if w.Completeness < 0 || w.Consistency < 0 || w.Accuracy < 0 {
		return w, NewConfigurationError("quality_weights", "weights must not be negative")
	}
	sum := w.Completeness + w.Consistency + w.Accuracy
	if sum == 0 {
		return w, NewConfigurationError("quality_weights", "weights must not all be zero")
	}
	return QualityWeights{
		Completeness: w.Completeness / sum,
		Consistency:  w.Consistency / sum,
		Accuracy:     w.Accuracy / sum,
	}, nil
}

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max float64 `json:"max" yaml:"max" mapstructure:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}
