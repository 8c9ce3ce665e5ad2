package scoring

import (
	"fmt"
	"strings"
)

// TaskType tags the closed set of task kinds. Adding a kind means touching
// every switch over TaskType in this package; there is no catch-all scoring
// branch.
type TaskType string

const (
	TypeSingleChoice       TaskType = "SC"
	TypeMultiChoice        TaskType = "MC"
	TypeShortAnswer        TaskType = "SA"
	TypeShortAnswerComment TaskType = "SA_COM"
	TypeTextAnswer         TaskType = "TA"
)

func (t TaskType) Valid() bool {
	switch t {
	case TypeSingleChoice, TypeMultiChoice, TypeShortAnswer, TypeShortAnswerComment, TypeTextAnswer:
		return true
	}
	return false
}

// TaskOption is one answer option for choice tasks.
type TaskOption struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Explanation string `json:"explanation,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// TaskMedia carries optional media URLs attached to a task.
type TaskMedia struct {
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

// TaskContent is the learner-visible task definition (tasks.task_content).
// Read-only to the engine; owned by the content collaborator.
type TaskContent struct {
	Type           TaskType     `json:"type"`
	Code           string       `json:"code,omitempty"`
	Title          string       `json:"title,omitempty"`
	Stem           string       `json:"stem"`
	Prompt         string       `json:"prompt,omitempty"`
	Media          *TaskMedia   `json:"media,omitempty"`
	Options        []TaskOption `json:"options,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	DifficultyCode string       `json:"difficulty_code,omitempty"`
	CourseUID      string       `json:"course_uid,omitempty"`
}

// Validate checks structural rules that hold regardless of scoring mode:
// choice tasks need at least two options, option ids must be unique.
func (c *TaskContent) Validate() error {
	const op = "scoring.content.validate"
	if !c.Type.Valid() {
		return validationErr(op, fmt.Sprintf("unsupported task type %q", c.Type))
	}
	if strings.TrimSpace(c.Stem) == "" {
		return validationErr(op, "stem is required")
	}
	if c.Type == TypeSingleChoice || c.Type == TypeMultiChoice {
		if len(c.Options) < 2 {
			return validationErr(op, "SC/MC tasks require at least two options")
		}
	}
	seen := make(map[string]struct{}, len(c.Options))
	for _, opt := range c.Options {
		if _, dup := seen[opt.ID]; dup {
			return validationErr(op, fmt.Sprintf("duplicate option id %q", opt.ID))
		}
		seen[opt.ID] = struct{}{}
	}
	return nil
}

func (c *TaskContent) optionByID(id string) *TaskOption {
	for i := range c.Options {
		if c.Options[i].ID == id {
			return &c.Options[i]
		}
	}
	return nil
}
