package feature

// SourceType indicates where a parameter value came from.
type SourceType string

const (
	SourceLiterature SourceType = "literature" // Published measurement
	SourcePrediction SourceType = "prediction" // Computed or estimated
	SourceDatabase   SourceType = "database"   // Looked up in a database
	SourceManual     SourceType = "manual"     // Set by hand for a scenario
)

// Evidence records the provenance of a feature or initial concentration.
// It is informational only and never affects computation.
type Evidence struct {
	SourceType SourceType `json:"source_type" yaml:"source_type"`
	Citation   string     `json:"citation,omitempty" yaml:"citation,omitempty"`
	Note       string     `json:"note,omitempty" yaml:"note,omitempty"`
}

// NoEvidence is used for values without a recorded source.
var NoEvidence = Evidence{SourceType: SourceManual}

// String renders the evidence for logs.
func (e Evidence) String() string {
	switch {
	case e.Citation != "" && e.Note != "":
		return string(e.SourceType) + ": " + e.Citation + " (" + e.Note + ")"
	case e.Citation != "":
		return string(e.SourceType) + ": " + e.Citation
	case e.Note != "":
		return string(e.SourceType) + " (" + e.Note + ")"
	default:
		return string(e.SourceType)
	}
}
