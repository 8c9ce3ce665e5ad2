package scoring

// StudentResponse is the payload of a learner's answer. Which field is set
// depends on the task type: SelectedOptionIDs for SC/MC, Value (+ optional
// Comment) for SA/SA_COM, Text for TA.
type StudentResponse struct {
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	Value             string   `json:"value,omitempty"`
	Comment           string   `json:"comment,omitempty"`
	Text              string   `json:"text,omitempty"`
}

// StudentAnswer is one submitted answer to one task.
type StudentAnswer struct {
	Type     TaskType        `json:"type"`
	Response StudentResponse `json:"response"`
}

// CheckResultDetails carries the per-option breakdown returned to callers.
type CheckResultDetails struct {
	CorrectOptions     []string `json:"correct_options,omitempty"`
	UserOptions        []string `json:"user_options,omitempty"`
	MatchedShortAnswer string   `json:"matched_short_answer,omitempty"`
}

// CheckResult is the outcome of evaluating one answer. IsCorrect is nil while
// a manual review is pending.
type CheckResult struct {
	IsCorrect *bool               `json:"is_correct"`
	Score     int                 `json:"score"`
	MaxScore  int                 `json:"max_score"`
	Details   *CheckResultDetails `json:"details,omitempty"`
	// Feedback maps a selected option id to its author explanation, when the
	// content carries one.
	Feedback map[string]string `json:"feedback,omitempty"`
}
