package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Category is one of the five physics topics a question belongs to
type Category string

const (
	Mechanics        Category = "mechanics"
	Thermodynamics   Category = "thermodynamics"
	Electromagnetism Category = "electromagnetism"
	Optics           Category = "optics"
	ModernPhysics    Category = "modern_physics"
)

// Categories lists every category in display order
var Categories = []Category{Mechanics, Thermodynamics, Electromagnetism, Optics, ModernPhysics}

// ParseCategory accepts the canonical name or a loose variant ("Modern Physics").
func ParseCategory(s string) (Category, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	for _, c := range Categories {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Title is the human-readable category name
func (c Category) Title() string {
	switch c {
	case Mechanics:
		return "Mechanics"
	case Thermodynamics:
		return "Thermodynamics"
	case Electromagnetism:
		return "Electromagnetism"
	case Optics:
		return "Optics"
	case ModernPhysics:
		return "Modern Physics"
	}
	return string(c)
}

// Question represents a question from the questions.json file
type Question struct {
	ID               int      `json:"id"`
	Text             string   `json:"text"`
	Category         Category `json:"category"`
	HasWorkedProblem bool     `json:"hasWorkedProblem,omitempty"`
}

// QuizQuestion is one generated multiple-choice item
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// Valid reports whether the item has exactly four options and an in-range answer.
func (q QuizQuestion) Valid() bool {
	return strings.TrimSpace(q.Question) != "" &&
		len(q.Options) == 4 &&
		q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options)
}

// VideoType tags a video recommendation
type VideoType string

const (
	VideoLecture        VideoType = "lecture"
	VideoProblemSolving VideoType = "problem_solving"
	VideoExperiment     VideoType = "experiment"
)

// VideoRecommendation is a search query the user can run on a video site
type VideoRecommendation struct {
	Query       string    `json:"query"`
	Description string    `json:"description"`
	Type        VideoType `json:"type"`
}

// SearchURL is a YouTube search link for the query
func (v VideoRecommendation) SearchURL() string {
	return "https://www.youtube.com/results?search_query=" + url.QueryEscape(v.Query)
}

// ExplanationState is what the view shows for the selected question.
// When Loading is false exactly one of Content and Err is set.
type ExplanationState struct {
	Loading bool
	Content string
	Err     error
}
