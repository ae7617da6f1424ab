package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/okian/casve/internal/domain/worksheet"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// StripFences returns the body of the first markdown code block, or the
// trimmed input when there is none.
func StripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// ExtractJSON returns the first balanced JSON object in s.
func ExtractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no JSON object found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				out := s[start : i+1]
				if !json.Valid([]byte(out)) {
					return "", errors.New("invalid JSON object")
				}
				return out, nil
			}
		}
	}
	return "", errors.New("unterminated JSON object")
}

type optionsEnvelope struct {
	Options []worksheet.Option `json:"options"`
}

// ParseOptions decodes an upstream response into options. Every option must
// carry all of its text fields; a single bad option rejects the response.
// Accepted options are tagged as generated and given fresh ids.
func ParseOptions(content string) ([]worksheet.Option, error) {
	body, err := ExtractJSON(StripFences(content))
	if err != nil {
		return nil, err
	}
	var env optionsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if len(env.Options) == 0 {
		return nil, errors.New("no options in response")
	}
	out := make([]worksheet.Option, 0, len(env.Options))
	for i, o := range env.Options {
		if missing := missingOptionFields(o); len(missing) > 0 {
			return nil, fmt.Errorf("option %d missing %s", i, strings.Join(missing, ", "))
		}
		o.ID = uuid.NewString()
		o.Source = worksheet.SourceAI
		out = append(out, o)
	}
	return out, nil
}

func missingOptionFields(o worksheet.Option) []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("title", o.Title)
	check("description", o.Description)
	check("profile.coreRole", o.Profile.CoreRole)
	check("profile.requiredSkills", o.Profile.RequiredSkills)
	check("profile.environment", o.Profile.Environment)
	check("profile.growth", o.Profile.Growth)
	check("matchReason", o.MatchReason)
	return missing
}
