package datasets

import (
	"encoding/json"
	"fmt"
	"os"
)

// Example is one BIRD/Spider benchmark question, grounded on teacher's
// cmd/eval_bird/main.go BirdExample struct.
type Example struct {
	QuestionID int    `json:"question_id"`
	DbID       string `json:"db_id"`
	Question   string `json:"question"`
	Evidence   string `json:"evidence"`
	SQL        string `json:"SQL"`
	Difficulty string `json:"difficulty,omitempty"`
}

// LoadExamples reads a BIRD-style dev.json (a JSON array of Example) from
// path, the same format teacher's loadBirdExamples consumes.
func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datasets: reading %s: %w", path, err)
	}
	var examples []Example
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("datasets: parsing %s: %w", path, err)
	}
	return examples, nil
}

// FilterByDifficulty keeps only examples matching difficulty, mirroring
// teacher's --difficulty flag filter in cmd/eval_bird/main.go. An empty
// difficulty returns examples unchanged.
func FilterByDifficulty(examples []Example, difficulty string) []Example {
	if difficulty == "" {
		return examples
	}
	filtered := make([]Example, 0, len(examples))
	for _, ex := range examples {
		if ex.Difficulty == difficulty {
			filtered = append(filtered, ex)
		}
	}
	return filtered
}
