// Package knowledge implements the static keyword lookup over a JSON
// knowledge base. Matches are injected into the completion request's system
// context; the raw answer is never returned to the user directly.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Item pairs trigger keywords with a canned answer.
type Item struct {
	Keywords []string `json:"keywords"`
	Answer   string   `json:"answer"`
}

// Base is a loaded knowledge base.
type Base struct {
	Questions []Item `json:"questions"`
}

// Load reads a knowledge base from a JSON file.
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: reading %s: %w", path, err)
	}
	var b Base
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("knowledge: parsing %s: %w", path, err)
	}
	return &b, nil
}

// Search returns the answer of the first item with a keyword contained in
// the query, case-insensitively. Empty string means no match.
func (b *Base) Search(query string) string {
	if b == nil {
		return ""
	}
	lower := strings.ToLower(query)
	for _, item := range b.Questions {
		for _, kw := range item.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return item.Answer
			}
		}
	}
	return ""
}
