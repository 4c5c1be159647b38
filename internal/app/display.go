package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quiz-competition-service/internal/domain"
)

// Rendering of the single outward quiz message. Localization is out of scope;
// these strings are plain English placeholders around the data that matters.

func renderQuestion(number, total int, q *domain.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d of %d\n\n%s", number, total, q.Prompt)
	return b.String()
}

// answerKeyboard lays out one option per row; callback data carries the
// question id and option index the answer endpoint expects.
func answerKeyboard(q *domain.Question) [][]domain.InlineButton {
	rows := make([][]domain.InlineButton, 0, len(q.Options))
	for i, opt := range q.Options {
		rows = append(rows, []domain.InlineButton{{
			Text: opt,
			Data: fmt.Sprintf("answer_%d_%d", q.ID, i),
		}})
	}
	return rows
}

func renderProgress(sess *domain.QuizSession, timer *domain.QuestionTimer, q *domain.Question, now time.Time) string {
	remaining := timer.EndsAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	var b strings.Builder
	b.WriteString(renderQuestion(sess.CurrentIndex+1, len(sess.QuestionIDs), q))
	fmt.Fprintf(&b, "\n\n⏱ %ds left · %d participating", int(remaining.Seconds()), sess.ParticipantCount)
	return b.String()
}

func renderRoundResults(questionNumber int, q *domain.Question, participants []domain.ParticipantRecord) string {
	var correct, wrong []string
	for _, p := range participants {
		detail, ok := p.Answers[q.ID]
		if !ok {
			continue
		}
		if detail.Correct {
			correct = append(correct, p.Username)
		} else {
			wrong = append(wrong, p.Username)
		}
	}
	sort.Strings(correct)
	sort.Strings(wrong)

	var b strings.Builder
	fmt.Fprintf(&b, "Round %d over!\n\n✅ Correct answer: %s\n", questionNumber, q.Options[q.CorrectIndex])
	if len(correct) > 0 {
		fmt.Fprintf(&b, "\nGot it right: %s\n", strings.Join(correct, ", "))
	}
	if len(wrong) > 0 {
		fmt.Fprintf(&b, "Missed it: %s\n", strings.Join(wrong, ", "))
	}
	if len(correct) == 0 && len(wrong) == 0 {
		b.WriteString("\nNobody answered this round.\n")
	}
	return b.String()
}

func renderFinalResults(entries []domain.ScoreboardEntry, registered, answered int) string {
	var b strings.Builder
	b.WriteString("🏆 The competition is over! Final results:\n\n")
	if len(entries) == 0 {
		b.WriteString("Nobody took part in this quiz.\n")
		return b.String()
	}
	winner := entries[0]
	fmt.Fprintf(&b, "🎉 Winner: %s with %.1f points!\n\n🏅 Leaderboard:\n", winner.Username, winner.Score)
	top := entries
	if len(top) > 10 {
		top = top[:10]
	}
	for i, e := range top {
		fmt.Fprintf(&b, "%d. %s: %.1f points\n", i+1, e.Username, e.Score)
	}
	fmt.Fprintf(&b, "\n%d joined · %d answered · %d watched", registered, answered, registered-answered)
	return b.String()
}

// rankParticipants orders participants by score descending. Input is first put
// in ascending user-id order so the stable sort breaks ties deterministically;
// no fairness-oriented secondary key is applied.
func rankParticipants(participants []domain.ParticipantRecord) []domain.ScoreboardEntry {
	sorted := make([]domain.ParticipantRecord, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	entries := make([]domain.ScoreboardEntry, 0, len(sorted))
	for _, p := range sorted {
		entries = append(entries, domain.ScoreboardEntry{
			UserID:     p.UserID,
			Username:   p.Username,
			Score:      p.Score,
			Correct:    p.Correct,
			Wrong:      p.Wrong,
			Eliminated: p.Eliminated,
		})
	}
	return entries
}
