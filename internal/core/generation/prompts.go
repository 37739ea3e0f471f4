package generation

import (
	"fmt"
	"strings"
)

// Texts shorter than this are treated as a topic to teach rather than source material.
const topicThreshold = 200

type difficultyGuide struct {
	focus    string
	question string
	answer   string
	example  string
}

var guides = map[Difficulty]difficultyGuide{
	Easy: {
		focus:    "fundamental concepts and basic definitions",
		question: "direct and objective, testing recognition and recall",
		answer:   "clear definitions, direct facts, simple examples",
		example:  "What is X? / Define Y / What is the formula for Z?",
	},
	Medium: {
		focus:    "practical application and understanding of concepts",
		question: "require interpretation, comparison or applying knowledge",
		answer:   "explanations with context, relations between concepts, intermediate calculations",
		example:  "How does X relate to Y? / Why does Z happen? / Calculate using the formula...",
	},
	Hard: {
		focus:    "critical analysis, synthesis and complex problem solving",
		question: "multi-step scenarios, deep analysis, critical thinking",
		answer:   "detailed analysis, several variables, advanced reasoning",
		example:  "Analyse the impact of X on Y / Compare several scenarios / Solve a complex problem",
	},
}

const flashcardSystemPrompt = `You are an expert educator who writes efficient study flashcards.
Return ONLY raw JSON (no markdown fences) shaped as:
{"flashcards": [{"front": "...", "back": "...", "type": "concept|code|diagram|example|comparison"}]}
Fronts are direct questions. Backs are concise, complete answers that never start with filler
such as "Basically" or "The text says".`

const quizSystemPrompt = `You are an expert educator who writes balanced multiple-choice quizzes.
Return ONLY raw JSON (no markdown fences) shaped as:
{"title": "...", "questions": [{"text": "...", "answers": [{"text": "...", "is_correct": true, "explanation": "..."}]}]}
Each question has 1 correct answer and 4 equally plausible incorrect ones of similar length.
Never use "all of the above" or "none of the above". Explanations are at most 2-3 lines.`

func flashcardPrompt(text string, n int, d Difficulty) string {
	g := guides[d]
	var b strings.Builder
	if len(strings.TrimSpace(text)) < topicThreshold {
		fmt.Fprintf(&b, "Create %d flashcards of %s difficulty about the topic %q.\n", n, d, strings.TrimSpace(text))
	} else {
		fmt.Fprintf(&b, "Based on the text below, create %d flashcards of %s difficulty.\n", n, d)
	}
	writeGuide(&b, d, g, "Answers")
	if len(strings.TrimSpace(text)) >= topicThreshold {
		b.WriteString("\nTEXT:\n")
		b.WriteString(text)
	}
	return b.String()
}

func quizPrompt(text string, n int, d Difficulty) string {
	g := guides[d]
	var b strings.Builder
	if len(strings.TrimSpace(text)) < topicThreshold {
		fmt.Fprintf(&b, "Create a quiz with %d questions of %s difficulty about the topic %q.\n", n, d, strings.TrimSpace(text))
	} else {
		fmt.Fprintf(&b, "Based on the text below, create a quiz with %d questions of %s difficulty.\n", n, d)
	}
	writeGuide(&b, d, g, "Alternatives")
	b.WriteString("Vary the position and length of the correct answer.\n")
	if len(strings.TrimSpace(text)) >= topicThreshold {
		b.WriteString("\nTEXT:\n")
		b.WriteString(text)
	}
	return b.String()
}

func writeGuide(b *strings.Builder, d Difficulty, g difficultyGuide, answerLabel string) {
	fmt.Fprintf(b, "Difficulty %s\n", strings.ToUpper(string(d)))
	fmt.Fprintf(b, "  Focus: %s\n", g.focus)
	fmt.Fprintf(b, "  Questions: %s\n", g.question)
	fmt.Fprintf(b, "  %s: %s\n", answerLabel, g.answer)
	fmt.Fprintf(b, "  Example: %s\n", g.example)
}

// AvoidRepeating puts items already generated from source in front of it, so a
// follow-up request produces only new ones.
func AvoidRepeating(source string, existing []string) string {
	if len(existing) == 0 {
		return source
	}
	var b strings.Builder
	b.WriteString("IMPORTANT: the items below were already generated from this content. Do NOT repeat any of them.\n\n")
	b.WriteString(strings.Join(existing, "\n\n---\n\n"))
	b.WriteString("\n\n---\n\nUsing the SAME ORIGINAL CONTENT below, write only NEW items that none of the above already cover.\n\n")
	b.WriteString(source)
	return b.String()
}

func DescribeFlashcard(front, back string) string {
	return fmt.Sprintf("Question: %s\nAnswer: %s", front, back)
}

func DescribeQuestion(text string, answers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nAlternatives:", text)
	for _, a := range answers {
		fmt.Fprintf(&b, "\n  - %s", a)
	}
	return b.String()
}
