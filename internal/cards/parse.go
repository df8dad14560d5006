package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParse is returned when the model's answer does not contain a usable JSON array.
var ErrParse = errors.New("failed to parse AI response")

// arrayPattern spans from the first '[' to the last ']' so nested arrays stay intact.
var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Card is one flashcard.
type Card struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// Section is one reviewer topic.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ExtractCards parses the flashcards out of a model answer.
func ExtractCards(text string) ([]Card, error) {
	raw, err := extractArray[Card](text)
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(raw))
	for _, c := range raw {
		c.Term = strings.TrimSpace(c.Term)
		c.Definition = strings.TrimSpace(c.Definition)
		if c.Term == "" || c.Definition == "" {
			continue
		}
		cards = append(cards, c)
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: no complete cards", ErrParse)
	}
	return cards, nil
}

// ExtractSections parses the reviewer sections out of a model answer.
func ExtractSections(text string) ([]Section, error) {
	raw, err := extractArray[Section](text)
	if err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(raw))
	for _, s := range raw {
		s.Title = strings.TrimSpace(s.Title)
		s.Content = strings.TrimSpace(s.Content)
		if s.Title == "" || s.Content == "" {
			continue
		}
		sections = append(sections, s)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no complete sections", ErrParse)
	}
	return sections, nil
}

func extractArray[T any](text string) ([]T, error) {
	match := arrayPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("%w: no JSON array in response", ErrParse)
	}
	var out []T
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return out, nil
}
