package replicate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The provider's "output" field is shape-polymorphic: a single URL string, an
// array of URL strings, or an object carrying the URL under one of a few keys.
// NormalizeOutput is the single place that flattens all three shapes; callers
// never inspect the raw value themselves.

var outputObjectKeys = []string{"url", "file", "weights"}

func NormalizeOutput(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("output is empty")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if u := strings.TrimSpace(single); u != "" {
			return []string{u}, nil
		}
		return nil, fmt.Errorf("output string is empty")
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if u := strings.TrimSpace(v); u != "" {
				out = append(out, u)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("output array holds no urls")
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range outputObjectKeys {
			v, ok := obj[key]
			if !ok {
				continue
			}
			var u string
			if err := json.Unmarshal(v, &u); err == nil && strings.TrimSpace(u) != "" {
				return []string{strings.TrimSpace(u)}, nil
			}
		}
		return nil, fmt.Errorf("output object holds no url under %v", outputObjectKeys)
	}

	return nil, fmt.Errorf("output has unsupported shape: %s", trimmed)
}

// WeightsURL picks the artifact URL from a normalized output list. The first
// entry wins when several are present.
func WeightsURL(result *PollResult) (string, error) {
	if result == nil || len(result.Output) == 0 {
		return "", fmt.Errorf("training output holds no artifact url")
	}
	return result.Output[0], nil
}
