package generator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyOutput is returned when the model produced nothing usable.
	ErrEmptyOutput = errors.New("model returned empty text")
	// ErrUnfilledTemplate is returned when the output still carries a placeholder.
	ErrUnfilledTemplate = errors.New("model output contains a template placeholder")
)

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

// PostProcess 清理模型输出并做基本校验。
func PostProcess(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); len(m) == 2 {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return "", ErrEmptyOutput
	}
	for _, p := range placeholders {
		if strings.Contains(text, p) {
			return "", fmt.Errorf("%w: %s", ErrUnfilledTemplate, p)
		}
	}
	return text, nil
}

// CleanHeadline keeps the first non-empty line and strips heading marks,
// emphasis and surrounding quotes.
func CleanHeadline(raw string) (string, error) {
	text, err := PostProcess(raw)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "# ")
		line = strings.Trim(line, "*_ \"'«»“”")
		if line != "" {
			return line, nil
		}
	}
	return "", ErrEmptyOutput
}
