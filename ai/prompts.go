package ai

import (
	"fmt"

	"github.com/korjavin/physprepbot/models"
	"google.golang.org/genai"
)

const (
	// QuizLength is the number of items requested per quiz
	QuizLength = 5
	// VideoCount is the number of video recommendations requested
	VideoCount  = 3
	quizOptions = 4
)

// Prompt is a fully-formed model request minus the model name.
type Prompt struct {
	Text   string
	Config *genai.GenerateContentConfig
}

// ExplanationPrompt asks for the long-form three-part explanation.
func ExplanationPrompt(q models.Question) Prompt {
	worked := "Choose a short, representative example."
	if q.HasWorkedProblem {
		worked = "This question is examined with a numerical problem, so make the worked example fully numerical, with units at every step."
	}

	text := fmt.Sprintf(`You are an experienced physics tutor preparing a student for a written and oral physics exam.

Exam question (%s):
%s

Write an explanation organised in exactly three sections with these headings:

## 1. Intuition
Explain the idea in plain language with an everyday analogy. No formulas yet.

## 2. Theory
Give the precise statement, the key formulas and a short derivation where it helps. Define every symbol.

## 3. Worked example
%s

Write all mathematics in LaTeX: inline math wrapped in single dollar signs such as $F = ma$, display equations in double dollar signs. Use Markdown for structure. Do not add an introduction or a closing summary.`,
		q.Category.Title(), q.Text, worked)

	return Prompt{Text: text}
}

// AudioScriptPrompt asks for a short script that is later read by the TTS model.
func AudioScriptPrompt(q models.Question) Prompt {
	text := fmt.Sprintf(`Write a spoken summary that answers this physics exam question:
%s

Rules:
- 2 to 3 sentences, no more than about 20 seconds when read aloud.
- Start directly with the physics. No greeting, no "Sure", no "In this explanation" or similar filler.
- Plain text only: no Markdown, no LaTeX. Say formulas in words, for example "force equals mass times acceleration".`,
		q.Text)

	return Prompt{Text: text, Config: fastConfig()}
}

// SpeechPrompt wraps a script for the TTS model with the fixed voice.
func SpeechPrompt(script, voice string) Prompt {
	return Prompt{
		Text: script,
		Config: &genai.GenerateContentConfig{
			ResponseModalities: []string{string(genai.ModalityAudio)},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}
}

// QuizPrompt asks for QuizLength multiple-choice items as a JSON array.
func QuizPrompt(q models.Question) Prompt {
	text := fmt.Sprintf(`Create %d multiple-choice questions that test real understanding of the following physics exam question:
%s

Each item must have exactly %d options with exactly one correct option. "correctAnswer" is the zero-based index of the correct option. "explanation" says in one or two sentences why that option is correct. Vary the difficulty and avoid trivia. Use LaTeX in dollar signs for math.`,
		QuizLength, q.Text, quizOptions)

	return Prompt{
		Text: text,
		Config: &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   quizSchema(QuizLength),
		},
	}
}

// VideoPrompt asks for VideoCount video-search suggestions as a JSON array.
func VideoPrompt(q models.Question) Prompt {
	text := fmt.Sprintf(`Suggest %d YouTube search queries that would find good videos for studying this physics exam question:
%s

For each, give the search query, a one-sentence description of what the student will find, and its type: "lecture" for conceptual lectures, "problem_solving" for worked problems, "experiment" for demonstrations.`,
		VideoCount, q.Text)

	return Prompt{
		Text: text,
		Config: &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   videoSchema(VideoCount),
		},
	}
}

// ChatInstruction is the fixed system context of a tutoring chat.
func ChatInstruction(q models.Question) string {
	return fmt.Sprintf(`You are a friendly physics tutor. The student is preparing this exam question:
"%s"

Answer the student's follow-up questions concisely, in a short paragraph, and always in the context of this exam question. Use LaTeX in dollar signs for math. If a question is unrelated to physics, steer the student back to the topic.`,
		q.Text)
}

// ChatConfig embeds ChatInstruction as the system instruction.
func ChatConfig(q models.Question) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(ChatInstruction(q), genai.RoleUser),
	}
}

func fastConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
}

func quizSchema(n int) *genai.Schema {
	count := int64(n)
	options := int64(quizOptions)
	return &genai.Schema{
		Type:     genai.TypeArray,
		MinItems: &count,
		MaxItems: &count,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"question": {Type: genai.TypeString},
				"options": {
					Type:     genai.TypeArray,
					Items:    &genai.Schema{Type: genai.TypeString},
					MinItems: &options,
					MaxItems: &options,
				},
				"correctAnswer": {Type: genai.TypeInteger},
				"explanation":   {Type: genai.TypeString},
			},
			Required:         []string{"question", "options", "correctAnswer", "explanation"},
			PropertyOrdering: []string{"question", "options", "correctAnswer", "explanation"},
		},
	}
}

func videoSchema(n int) *genai.Schema {
	count := int64(n)
	return &genai.Schema{
		Type:     genai.TypeArray,
		MinItems: &count,
		MaxItems: &count,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query":       {Type: genai.TypeString},
				"description": {Type: genai.TypeString},
				"type": {
					Type: genai.TypeString,
					Enum: []string{
						string(models.VideoLecture),
						string(models.VideoProblemSolving),
						string(models.VideoExperiment),
					},
				},
			},
			Required:         []string{"query", "description", "type"},
			PropertyOrdering: []string{"query", "description", "type"},
		},
	}
}
