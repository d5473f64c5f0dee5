package submissions

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// JudgeOutcome is the payload a judger posts back for one grading round.
// Either Error is set, or Score/Time/Memory carry the graded values.
type JudgeOutcome struct {
	Error   string          `json:"error,omitempty"`
	Score   *float64        `json:"score,omitempty"`
	Time    int64           `json:"time,omitempty"`
	Memory  int64           `json:"memory,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Failed reports whether the round ended in a judging error rather than a verdict.
func (o JudgeOutcome) Failed() bool {
	return o.Error != ""
}

func (o JudgeOutcome) encode() (datatypes.JSON, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// mergeFinalResult folds the final-test outcome into the stored sample-round
// result under a final_result key, keeping the sample verdict intact.
func mergeFinalResult(stored datatypes.JSON, outcome JudgeOutcome) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &merged); err != nil {
			return nil, err
		}
	}
	merged["final_result"] = outcome
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// contentValue extracts one key from the stored content config blob.
func contentValue(content datatypes.JSON, key string) (any, bool) {
	if len(content) == 0 {
		return nil, false
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(content, &decoded); err != nil {
		return nil, false
	}
	value, ok := decoded[key]
	return value, ok
}

// HasFinalTestConfig reports whether the submission content carries the
// sample-first marker that keeps the verdict in "Judged, Waiting".
func (s *Submission) HasFinalTestConfig() bool {
	_, ok := contentValue(s.Content, "final_test_config")
	return ok
}

// ContentFileName returns the archive blob reference stored in the content config.
func (s *Submission) ContentFileName() string {
	value, ok := contentValue(s.Content, "file_name")
	if !ok {
		return ""
	}
	name, _ := value.(string)
	return name
}
