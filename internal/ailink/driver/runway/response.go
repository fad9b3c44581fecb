package runway

import (
	"encoding/json"
	"strings"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

// taskResponse covers both the create and the fetch response bodies.
type taskResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Failure     string          `json:"failure,omitempty"`
	FailureCode string          `json:"failureCode,omitempty"`
}

func toDriverTask(parsed *taskResponse, raw []byte) *driver.Task {
	return &driver.Task{
		ID:          strings.TrimSpace(parsed.ID),
		Status:      driver.Normalize(parsed.Status),
		Outputs:     parseOutputs(parsed.Output),
		Failure:     parsed.Failure,
		FailureCode: parsed.FailureCode,
		Raw:         append(json.RawMessage(nil), raw...),
	}
}

// parseOutputs accepts the documented array of URLs as well as a bare string
// or an object carrying video_url.
func parseOutputs(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list)
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return compact([]string{single})
	}

	var obj struct {
		VideoURL string `json:"video_url"`
		URL      string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return compact([]string{obj.VideoURL, obj.URL})
	}

	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
