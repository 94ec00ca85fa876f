package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/MailPipe/internal/models"
)

// ParseModelJSON decodes the JSON object embedded in a model reply. The
// object is taken from the first '{' to the last '}', so code fences and
// surrounding prose are ignored.
func ParseModelJSON[T any](text string) (T, error) {
	var out T
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, fmt.Errorf("%w: no JSON object in reply", models.ErrModelOutput)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("%w: %v", models.ErrModelOutput, err)
	}
	return out, nil
}
