package generation

import "math/rand/v2"

// ShuffleAnswers returns a copy of quiz with each question's answers permuted independently.
// Answer content and correctness flags are untouched; only order changes.
func ShuffleAnswers(quiz QuizDraft, rng *rand.Rand) QuizDraft {
	out := QuizDraft{Title: quiz.Title, Questions: make([]QuestionDraft, len(quiz.Questions))}
	for i, q := range quiz.Questions {
		answers := make([]AnswerDraft, len(q.Answers))
		copy(answers, q.Answers)
		rng.Shuffle(len(answers), func(a, b int) {
			answers[a], answers[b] = answers[b], answers[a]
		})
		out.Questions[i] = QuestionDraft{Text: q.Text, Answers: answers}
	}
	return out
}
