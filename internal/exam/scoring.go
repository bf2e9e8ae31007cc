package exam

// Answer is one submitted choice.
type Answer struct {
	QuestionID       int64 `json:"question_id"`
	SelectedOptionID int64 `json:"selected_option_id"`
}

// AnswerKey maps every question of a test to its canonical correct option.
// A question without a correct option maps to 0 and can never be answered
// correctly.
type AnswerKey map[int64]int64

// AnswerResult is the per-answer detail stored with an attempt.
type AnswerResult struct {
	QuestionID       int64  `json:"question_id"`
	SelectedOptionID int64  `json:"selected_option_id"`
	IsCorrect        bool   `json:"is_correct"`
	CorrectOptionID  *int64 `json:"correct_option_id"`
	Duplicate        bool   `json:"duplicate,omitempty"`
}

type Evaluation struct {
	Score            int            `json:"score"`
	Passed           bool           `json:"passed"`
	TotalQuestions   int            `json:"total_questions"`
	CorrectAnswers   int            `json:"correct_answers"`
	IncorrectAnswers int            `json:"incorrect_answers"`
	Unanswered       int            `json:"unanswered"`
	PassingScore     int            `json:"passing_score"`
	Answers          []AnswerResult `json:"answers"`
}

// Evaluate scores answers against key. Only the first answer for a question
// can count as correct; repeats are marked duplicate and scored wrong, so the
// score never exceeds 100.
func Evaluate(key AnswerKey, answers []Answer, passingScore int) Evaluation {
	total := len(key)
	ev := Evaluation{
		TotalQuestions: total,
		PassingScore:   passingScore,
		Answers:        make([]AnswerResult, 0, len(answers)),
	}

	seen := make(map[int64]struct{}, len(answers))
	for _, a := range answers {
		res := AnswerResult{QuestionID: a.QuestionID, SelectedOptionID: a.SelectedOptionID}
		if correctID, ok := key[a.QuestionID]; ok && correctID > 0 {
			id := correctID
			res.CorrectOptionID = &id
		}

		if _, dup := seen[a.QuestionID]; dup {
			res.Duplicate = true
		} else {
			seen[a.QuestionID] = struct{}{}
			if res.CorrectOptionID != nil && a.SelectedOptionID == *res.CorrectOptionID {
				res.IsCorrect = true
				ev.CorrectAnswers++
			}
		}
		ev.Answers = append(ev.Answers, res)
	}

	ev.IncorrectAnswers = len(answers) - ev.CorrectAnswers
	ev.Unanswered = total - len(seen)
	if ev.Unanswered < 0 {
		ev.Unanswered = 0
	}
	ev.Score = percentRoundHalfUp(ev.CorrectAnswers, total)
	ev.Passed = ev.Score >= passingScore
	return ev
}

// percentRoundHalfUp returns round(part*100/whole) with halves rounded up,
// using integer arithmetic only.
func percentRoundHalfUp(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (part*200 + whole) / (2 * whole)
}
