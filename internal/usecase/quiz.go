package usecase

import (
	"encoding/json"
	"strings"

	"sturdy-study/internal/domain/model"
)

// DecodeQuiz extracts a quiz from reply text that may wrap the JSON object in
// prose or code fences. It takes the span from the first '{' to the last '}'.
func DecodeQuiz(text string) (*model.Quiz, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var probe struct {
		Questions json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &probe); err != nil {
		return nil, false
	}
	if len(probe.Questions) == 0 || probe.Questions[0] != '[' {
		return nil, false
	}

	var q model.Quiz
	if err := json.Unmarshal(probe.Questions, &q.Questions); err != nil {
		return nil, false
	}
	return &q, true
}
