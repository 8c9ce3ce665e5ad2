package scoring

import (
	"fmt"

	"github.com/vkomlev/LMS/internal/domain"
)

// ScoringMode selects how a choice task converts selections to points.
type ScoringMode string

const (
	ModeAllOrNothing ScoringMode = "all_or_nothing"
	ModePartial      ScoringMode = "partial"
	ModeCustom       ScoringMode = "custom"
)

// PartialRule awards Score when the learner's selected set equals Selected
// exactly (unordered).
type PartialRule struct {
	Selected []string `json:"selected"`
	Score    int      `json:"score"`
}

// ShortAnswerAccepted is one accepted short-answer value with its score.
type ShortAnswerAccepted struct {
	Value string `json:"value"`
	Score int    `json:"score"`
}

// ShortAnswerRules configures SA/SA_COM checking.
type ShortAnswerRules struct {
	Normalization   []string              `json:"normalization"`
	AcceptedAnswers []ShortAnswerAccepted `json:"accepted_answers"`
	UseRegex        bool                  `json:"use_regex"`
	Regex           string                `json:"regex,omitempty"`
}

// TextRubricItem is one criterion for manual review of TA answers.
type TextRubricItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	MaxScore int    `json:"max_score"`
}

// TextAnswerRules configures TA tasks. AutoCheck is always false today; the
// score arrives later through the manual-review adjustment path.
type TextAnswerRules struct {
	AutoCheck bool             `json:"auto_check"`
	Rubric    []TextRubricItem `json:"rubric,omitempty"`
}

// Penalties are subtracted from the base score; results are always floored
// at zero.
type Penalties struct {
	WrongAnswer   int `json:"wrong_answer"`
	MissingAnswer int `json:"missing_answer"`
	ExtraWrongMC  int `json:"extra_wrong_mc"`
}

// SolutionRules is the declarative scoring spec paired 1:1 with a task
// (tasks.solution_rules).
type SolutionRules struct {
	MaxScore             int         `json:"max_score"`
	ScoringMode          ScoringMode `json:"scoring_mode"`
	AutoCheck            bool        `json:"auto_check"`
	ManualReviewRequired bool        `json:"manual_review_required"`

	CorrectOptions []string      `json:"correct_options,omitempty"`
	PartialRules   []PartialRule `json:"partial_rules,omitempty"`

	ShortAnswer *ShortAnswerRules `json:"short_answer,omitempty"`
	TextAnswer  *TextAnswerRules  `json:"text_answer,omitempty"`

	Penalties Penalties `json:"penalties"`
}

// Validate rejects malformed rules before any attempt may reference the task.
// In particular an SC rule set must name exactly one correct option, and every
// referenced option id must exist in the content.
func (r *SolutionRules) Validate(content *TaskContent) error {
	const op = "scoring.rules.validate"
	if r.MaxScore <= 0 {
		return validationErr(op, "max_score must be positive")
	}
	if r.Penalties.WrongAnswer < 0 || r.Penalties.MissingAnswer < 0 || r.Penalties.ExtraWrongMC < 0 {
		return validationErr(op, "penalties must be non-negative")
	}
	switch content.Type {
	case TypeSingleChoice:
		if len(r.CorrectOptions) != 1 {
			return validationErr(op, fmt.Sprintf("SC task must have exactly one correct option, got %d", len(r.CorrectOptions)))
		}
	case TypeMultiChoice:
		if len(r.CorrectOptions) == 0 {
			return validationErr(op, "MC task must have at least one correct option")
		}
		for _, pr := range r.PartialRules {
			if pr.Score < 0 || pr.Score > r.MaxScore {
				return validationErr(op, fmt.Sprintf("partial rule score %d outside [0, %d]", pr.Score, r.MaxScore))
			}
		}
	case TypeShortAnswer, TypeShortAnswerComment:
		if r.ShortAnswer != nil {
			for _, acc := range r.ShortAnswer.AcceptedAnswers {
				if acc.Score < 0 || acc.Score > r.MaxScore {
					return validationErr(op, fmt.Sprintf("accepted answer score %d outside [0, %d]", acc.Score, r.MaxScore))
				}
			}
		}
	case TypeTextAnswer:
		// Manual review; nothing option-shaped to check.
	}
	for _, id := range r.CorrectOptions {
		if content.optionByID(id) == nil {
			return validationErr(op, fmt.Sprintf("correct option %q not present in task options", id))
		}
	}
	return nil
}

func validationErr(op, msg string) error {
	return domain.ValidationError(op, msg)
}
