package scoring

import (
	"fmt"
	"regexp"
	"strings"
)

// Engine evaluates one submitted answer against task content and its solution
// rules. Stateless and deterministic: no I/O, nothing persisted.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Evaluate checks a single answer. The answer type must match the content
// type; malformed answers return a validation error instead of scoring zero.
func (e *Engine) Evaluate(content *TaskContent, rules *SolutionRules, answer *StudentAnswer) (*CheckResult, error) {
	const op = "scoring.evaluate"
	if content == nil || rules == nil || answer == nil {
		return nil, validationErr(op, "content, rules and answer are required")
	}
	if answer.Type != content.Type {
		return nil, validationErr(op, fmt.Sprintf("answer type %q does not match task type %q", answer.Type, content.Type))
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}
	if err := rules.Validate(content); err != nil {
		return nil, err
	}

	switch content.Type {
	case TypeSingleChoice:
		return e.checkSingleChoice(content, rules, answer)
	case TypeMultiChoice:
		return e.checkMultiChoice(content, rules, answer)
	case TypeShortAnswer, TypeShortAnswerComment:
		return e.checkShortAnswer(content, rules, answer)
	case TypeTextAnswer:
		return e.checkTextAnswer(content, rules, answer)
	}
	return nil, validationErr(op, fmt.Sprintf("unsupported task type %q", content.Type))
}

func (e *Engine) checkSingleChoice(content *TaskContent, rules *SolutionRules, answer *StudentAnswer) (*CheckResult, error) {
	const op = "scoring.single_choice"
	selected := answer.Response.SelectedOptionIDs
	if len(selected) == 0 {
		return nil, validationErr(op, "selected_option_ids is required for choice tasks")
	}
	if len(selected) != 1 {
		return nil, validationErr(op, "SC tasks require exactly one selected option")
	}

	correct := len(rules.CorrectOptions) == 1 && selected[0] == rules.CorrectOptions[0]
	score := 0
	if correct {
		score = rules.MaxScore
	} else {
		score = clampScore(-rules.Penalties.WrongAnswer, rules.MaxScore)
	}

	return &CheckResult{
		IsCorrect: boolPtr(correct),
		Score:     score,
		MaxScore:  rules.MaxScore,
		Details: &CheckResultDetails{
			CorrectOptions: append([]string(nil), rules.CorrectOptions...),
			UserOptions:    append([]string(nil), selected...),
		},
		Feedback: optionFeedback(content, selected),
	}, nil
}

func (e *Engine) checkMultiChoice(content *TaskContent, rules *SolutionRules, answer *StudentAnswer) (*CheckResult, error) {
	const op = "scoring.multi_choice"
	selected := answer.Response.SelectedOptionIDs
	if len(selected) == 0 {
		return nil, validationErr(op, "selected_option_ids is required for choice tasks")
	}
	userSet := stringSet(selected)
	correctSet := stringSet(rules.CorrectOptions)

	var score int
	switch rules.ScoringMode {
	case ModePartial:
		matched, ok := applyPartialRules(rules, userSet)
		if ok {
			score = matched
		} else if len(correctSet) > 0 {
			// No explicit rule for this exact set: proportional credit for
			// the intersection with the correct set.
			score = rules.MaxScore * intersectionSize(correctSet, userSet) / len(correctSet)
		}
	default:
		// all_or_nothing; custom falls back to the same comparison until an
		// external engine is wired.
		if setsEqual(userSet, correctSet) && len(correctSet) > 0 {
			score = rules.MaxScore
		}
	}

	// Each selected id outside the correct set costs the configured penalty.
	if rules.Penalties.ExtraWrongMC > 0 {
		extra := 0
		for id := range userSet {
			if _, ok := correctSet[id]; !ok {
				extra++
			}
		}
		score -= extra * rules.Penalties.ExtraWrongMC
	}
	score = clampScore(score, rules.MaxScore)

	return &CheckResult{
		IsCorrect: boolPtr(score == rules.MaxScore),
		Score:     score,
		MaxScore:  rules.MaxScore,
		Details: &CheckResultDetails{
			CorrectOptions: append([]string(nil), rules.CorrectOptions...),
			UserOptions:    append([]string(nil), selected...),
		},
		Feedback: optionFeedback(content, selected),
	}, nil
}

func (e *Engine) checkShortAnswer(content *TaskContent, rules *SolutionRules, answer *StudentAnswer) (*CheckResult, error) {
	const op = "scoring.short_answer"
	raw := answer.Response.Value
	if raw == "" {
		return nil, validationErr(op, "'value' is required for short-answer tasks")
	}

	sa := rules.ShortAnswer
	if sa == nil {
		// Nothing to check against: leave the score for manual review.
		return &CheckResult{IsCorrect: nil, Score: 0, MaxScore: rules.MaxScore}, nil
	}

	normalized := normalizeText(raw, sa.Normalization)

	score := 0
	matched := ""

	if sa.UseRegex && sa.Regex != "" {
		// Anchored: the whole value must match, not a substring.
		if re, err := regexp.Compile("^(?:" + sa.Regex + ")$"); err == nil {
			if re.MatchString(normalized) {
				score = rules.MaxScore
				matched = raw
			}
		}
		// An invalid regex is ignored; accepted answers still apply.
	}

	if score < rules.MaxScore {
		for _, acc := range sa.AcceptedAnswers {
			if normalizeText(acc.Value, sa.Normalization) == normalized && acc.Score > score {
				score = acc.Score
				matched = acc.Value
			}
		}
	}
	score = clampScore(score, rules.MaxScore)

	var correct *bool
	if score > 0 {
		correct = boolPtr(score == rules.MaxScore)
	} else {
		correct = boolPtr(false)
	}

	return &CheckResult{
		IsCorrect: correct,
		Score:     score,
		MaxScore:  rules.MaxScore,
		Details:   &CheckResultDetails{MatchedShortAnswer: matched},
	}, nil
}

func (e *Engine) checkTextAnswer(content *TaskContent, rules *SolutionRules, answer *StudentAnswer) (*CheckResult, error) {
	const op = "scoring.text_answer"
	if answer.Response.Text == "" {
		return nil, validationErr(op, "'text' is required for free-text tasks")
	}
	// Free-text is never auto-checked: score stays pending until a reviewer
	// supplies one through the manual adjustment path.
	return &CheckResult{IsCorrect: nil, Score: 0, MaxScore: rules.MaxScore}, nil
}

func applyPartialRules(rules *SolutionRules, userSet map[string]struct{}) (int, bool) {
	for _, pr := range rules.PartialRules {
		if setsEqual(stringSet(pr.Selected), userSet) {
			return pr.Score, true
		}
	}
	return 0, false
}

// normalizeText applies the rule-configured normalization steps.
func normalizeText(value string, steps []string) string {
	result := value
	for _, step := range steps {
		switch step {
		case "trim":
			result = strings.TrimSpace(result)
		case "lower":
			result = strings.ToLower(result)
		case "collapse_spaces":
			result = strings.Join(strings.Fields(result), " ")
		}
	}
	return result
}

func optionFeedback(content *TaskContent, selected []string) map[string]string {
	var fb map[string]string
	for _, id := range selected {
		opt := content.optionByID(id)
		if opt == nil || opt.Explanation == "" {
			continue
		}
		if fb == nil {
			fb = make(map[string]string)
		}
		fb[id] = opt.Explanation
	}
	return fb
}

func clampScore(score, max int) int {
	if score < 0 {
		return 0
	}
	if score > max {
		return max
	}
	return score
}

func stringSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func intersectionSize(a, b map[string]struct{}) int {
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func boolPtr(v bool) *bool { return &v }
