package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Bank is the immutable set of exam questions loaded at startup
type Bank struct {
	questions []Question
	byID      map[int]Question
}

// LoadBank loads questions from a JSON file
func LoadBank(path string) (*Bank, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var questions []Question
	if err := json.Unmarshal(file, &questions); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return NewBank(questions)
}

// NewBank builds a bank, skipping entries without a positive id.
func NewBank(questions []Question) (*Bank, error) {
	b := &Bank{byID: make(map[int]Question, len(questions))}
	for _, q := range questions {
		if q.ID <= 0 {
			continue
		}
		if _, dup := b.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %d", q.ID)
		}
		if _, err := ParseCategory(string(q.Category)); err != nil {
			return nil, fmt.Errorf("question %d: %w", q.ID, err)
		}
		b.byID[q.ID] = q
		b.questions = append(b.questions, q)
	}
	sort.Slice(b.questions, func(i, j int) bool { return b.questions[i].ID < b.questions[j].ID })
	return b, nil
}

// All returns every question ordered by id
func (b *Bank) All() []Question {
	return b.questions
}

// Get looks a question up by id
func (b *Bank) Get(id int) (Question, bool) {
	q, ok := b.byID[id]
	return q, ok
}

// Len is the number of questions
func (b *Bank) Len() int {
	return len(b.questions)
}
