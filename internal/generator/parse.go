package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vbonduro/docustitch/internal/domain"
)

// ParseResult decodes a backend reply into a GeneratedResult. The reply must
// be one JSON object with string fields script, instructions and explanation;
// a surrounding markdown code fence is tolerated. Field values are returned
// verbatim.
func ParseResult(raw string) (*domain.GeneratedResult, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var fields struct {
		Script       *string `json:"script"`
		Instructions *string `json:"instructions"`
		Explanation  *string `json:"explanation"`
	}
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedResponse)
	}

	var missing []string
	if fields.Script == nil {
		missing = append(missing, "script")
	}
	if fields.Instructions == nil {
		missing = append(missing, "instructions")
	}
	if fields.Explanation == nil {
		missing = append(missing, "explanation")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing fields %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	return &domain.GeneratedResult{
		Script:       *fields.Script,
		Instructions: *fields.Instructions,
		Explanation:  *fields.Explanation,
	}, nil
}

// stripFence removes a leading ``` or ```json line and a trailing ``` line.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	body := strings.TrimSpace(s[nl+1:])
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
