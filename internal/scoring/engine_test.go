package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkomlev/LMS/internal/domain"
)

func scContent() *TaskContent {
	return &TaskContent{
		Type: TypeSingleChoice,
		Stem: "Pick one",
		Options: []TaskOption{
			{ID: "A", Text: "first", IsActive: true},
			{ID: "B", Text: "second", Explanation: "not this one", IsActive: true},
			{ID: "C", Text: "third", IsActive: true},
		},
	}
}

func mcContent() *TaskContent {
	return &TaskContent{
		Type: TypeMultiChoice,
		Stem: "Pick all that apply",
		Options: []TaskOption{
			{ID: "A", Text: "a", IsActive: true},
			{ID: "B", Text: "b", IsActive: true},
			{ID: "C", Text: "c", IsActive: true},
		},
	}
}

func TestEngineSingleChoice(t *testing.T) {
	e := NewEngine()
	content := scContent()
	rules := &SolutionRules{
		MaxScore:       10,
		ScoringMode:    ModeAllOrNothing,
		AutoCheck:      true,
		CorrectOptions: []string{"B"},
		Penalties:      Penalties{WrongAnswer: 2},
	}
	require.NoError(t, rules.Validate(content))

	res, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeSingleChoice,
		Response: StudentResponse{SelectedOptionIDs: []string{"B"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.IsCorrect)
	require.True(t, *res.IsCorrect)
	require.Equal(t, 10, res.Score)
	require.Equal(t, []string{"B"}, res.Details.UserOptions)
	require.Equal(t, "not this one", res.Feedback["B"])

	res, err = e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeSingleChoice,
		Response: StudentResponse{SelectedOptionIDs: []string{"A"}},
	})
	require.NoError(t, err)
	require.False(t, *res.IsCorrect)
	// Wrong-answer penalty can never push the score below zero.
	require.Equal(t, 0, res.Score)
}

func TestEngineSingleChoiceRequiresOneSelection(t *testing.T) {
	e := NewEngine()
	content := scContent()
	rules := &SolutionRules{MaxScore: 10, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"B"}}

	for _, sel := range [][]string{nil, {"A", "B"}} {
		_, err := e.Evaluate(content, rules, &StudentAnswer{
			Type:     TypeSingleChoice,
			Response: StudentResponse{SelectedOptionIDs: sel},
		})
		require.Error(t, err)
		require.True(t, domain.IsCode(err, domain.CodeValidation))
	}
}

func TestEngineRejectsMalformedRules(t *testing.T) {
	e := NewEngine()
	content := scContent()
	// An SC rule set with two correct options must fail validation up front
	// rather than silently scoring every selection as wrong.
	rules := &SolutionRules{
		MaxScore:       10,
		ScoringMode:    ModeAllOrNothing,
		AutoCheck:      true,
		CorrectOptions: []string{"A", "B"},
	}

	_, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeSingleChoice,
		Response: StudentResponse{SelectedOptionIDs: []string{"A"}},
	})
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeValidation))
}

func TestEngineRejectsMalformedContent(t *testing.T) {
	e := NewEngine()
	content := scContent()
	content.Stem = ""
	rules := &SolutionRules{MaxScore: 10, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"B"}}

	_, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeSingleChoice,
		Response: StudentResponse{SelectedOptionIDs: []string{"B"}},
	})
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeValidation))
}

func TestEngineMultiChoiceAllOrNothing(t *testing.T) {
	e := NewEngine()
	content := mcContent()
	rules := &SolutionRules{
		MaxScore:       15,
		ScoringMode:    ModeAllOrNothing,
		CorrectOptions: []string{"A", "B"},
	}
	require.NoError(t, rules.Validate(content))

	cases := []struct {
		selected []string
		score    int
		correct  bool
	}{
		{[]string{"A", "B"}, 15, true},
		{[]string{"B", "A"}, 15, true},
		{[]string{"A"}, 0, false},
		{[]string{"A", "B", "C"}, 0, false},
	}
	for _, tc := range cases {
		res, err := e.Evaluate(content, rules, &StudentAnswer{
			Type:     TypeMultiChoice,
			Response: StudentResponse{SelectedOptionIDs: tc.selected},
		})
		require.NoError(t, err, "selected=%v", tc.selected)
		require.Equal(t, tc.score, res.Score, "selected=%v", tc.selected)
		require.Equal(t, tc.correct, *res.IsCorrect, "selected=%v", tc.selected)
	}
}

func TestEngineMultiChoicePartial(t *testing.T) {
	e := NewEngine()
	content := mcContent()
	rules := &SolutionRules{
		MaxScore:       15,
		ScoringMode:    ModePartial,
		CorrectOptions: []string{"A", "B"},
		PartialRules: []PartialRule{
			{Selected: []string{"A"}, Score: 8},
			{Selected: []string{"B"}, Score: 7},
			{Selected: []string{"A", "B"}, Score: 15},
		},
	}
	require.NoError(t, rules.Validate(content))

	cases := []struct {
		selected []string
		score    int
	}{
		{[]string{"A"}, 8},
		{[]string{"B"}, 7},
		{[]string{"A", "B"}, 15},
		// Not in the table: proportional credit for the overlap, 15*1/2.
		{[]string{"A", "C"}, 7},
		{[]string{"C"}, 0},
	}
	for _, tc := range cases {
		res, err := e.Evaluate(content, rules, &StudentAnswer{
			Type:     TypeMultiChoice,
			Response: StudentResponse{SelectedOptionIDs: tc.selected},
		})
		require.NoError(t, err, "selected=%v", tc.selected)
		require.Equal(t, tc.score, res.Score, "selected=%v", tc.selected)
		require.LessOrEqual(t, res.Score, rules.MaxScore)
	}
}

func TestEngineMultiChoiceExtraWrongPenalty(t *testing.T) {
	e := NewEngine()
	content := mcContent()
	rules := &SolutionRules{
		MaxScore:       10,
		ScoringMode:    ModePartial,
		CorrectOptions: []string{"A", "B"},
		Penalties:      Penalties{ExtraWrongMC: 3},
	}

	// Proportional 10*2/2 = 10, minus one extra wrong selection.
	res, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeMultiChoice,
		Response: StudentResponse{SelectedOptionIDs: []string{"A", "B", "C"}},
	})
	require.NoError(t, err)
	require.Equal(t, 7, res.Score)
	require.False(t, *res.IsCorrect)
}

func TestEngineShortAnswer(t *testing.T) {
	e := NewEngine()
	content := &TaskContent{Type: TypeShortAnswer, Stem: "Capital of France?"}
	rules := &SolutionRules{
		MaxScore:    5,
		ScoringMode: ModeAllOrNothing,
		ShortAnswer: &ShortAnswerRules{
			Normalization: []string{"trim", "lower", "collapse_spaces"},
			AcceptedAnswers: []ShortAnswerAccepted{
				{Value: "Paris", Score: 5},
				{Value: "paris, france", Score: 3},
			},
		},
	}
	require.NoError(t, rules.Validate(content))

	res, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeShortAnswer,
		Response: StudentResponse{Value: "  PARIS  "},
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.Score)
	require.True(t, *res.IsCorrect)
	require.Equal(t, "Paris", res.Details.MatchedShortAnswer)

	res, err = e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeShortAnswer,
		Response: StudentResponse{Value: "Paris,  France"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Score)
	// Partial credit counts as answered but not fully correct.
	require.False(t, *res.IsCorrect)

	res, err = e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeShortAnswer,
		Response: StudentResponse{Value: "London"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)
	require.False(t, *res.IsCorrect)
}

func TestEngineShortAnswerRegex(t *testing.T) {
	e := NewEngine()
	content := &TaskContent{Type: TypeShortAnswer, Stem: "Enter a year in the 1990s"}
	rules := &SolutionRules{
		MaxScore:    4,
		ScoringMode: ModeAllOrNothing,
		ShortAnswer: &ShortAnswerRules{
			Normalization: []string{"trim"},
			UseRegex:      true,
			Regex:         `199\d`,
		},
	}

	res, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeShortAnswer,
		Response: StudentResponse{Value: "1994"},
	})
	require.NoError(t, err)
	require.Equal(t, 4, res.Score)

	// Substring matches do not count: the whole value must match.
	res, err = e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeShortAnswer,
		Response: StudentResponse{Value: "in 1994 maybe"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)
}

func TestEngineShortAnswerWithoutRulesGoesToReview(t *testing.T) {
	e := NewEngine()
	content := &TaskContent{Type: TypeShortAnswer, Stem: "Explain briefly"}
	rules := &SolutionRules{MaxScore: 5, ScoringMode: ModeAllOrNothing}

	res, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeShortAnswer,
		Response: StudentResponse{Value: "some answer"},
	})
	require.NoError(t, err)
	require.Nil(t, res.IsCorrect)
	require.Equal(t, 0, res.Score)
}

func TestEngineTextAnswerPendsManualReview(t *testing.T) {
	e := NewEngine()
	content := &TaskContent{Type: TypeTextAnswer, Stem: "Write an essay"}
	rules := &SolutionRules{MaxScore: 20, ScoringMode: ModeCustom, ManualReviewRequired: true}

	res, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeTextAnswer,
		Response: StudentResponse{Text: "my essay"},
	})
	require.NoError(t, err)
	require.Nil(t, res.IsCorrect)
	require.Equal(t, 0, res.Score)
	require.Equal(t, 20, res.MaxScore)

	_, err = e.Evaluate(content, rules, &StudentAnswer{Type: TypeTextAnswer})
	require.True(t, domain.IsCode(err, domain.CodeValidation))
}

func TestEngineTypeMismatch(t *testing.T) {
	e := NewEngine()
	content := scContent()
	rules := &SolutionRules{MaxScore: 10, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"A"}}

	_, err := e.Evaluate(content, rules, &StudentAnswer{
		Type:     TypeMultiChoice,
		Response: StudentResponse{SelectedOptionIDs: []string{"A"}},
	})
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeValidation))
}

func TestRulesValidate(t *testing.T) {
	content := scContent()

	bad := &SolutionRules{MaxScore: 0, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"A"}}
	require.True(t, domain.IsCode(bad.Validate(content), domain.CodeValidation))

	twoCorrect := &SolutionRules{MaxScore: 10, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"A", "B"}}
	require.True(t, domain.IsCode(twoCorrect.Validate(content), domain.CodeValidation))

	unknownOption := &SolutionRules{MaxScore: 10, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"Z"}}
	require.True(t, domain.IsCode(unknownOption.Validate(content), domain.CodeValidation))

	mc := mcContent()
	outOfRange := &SolutionRules{
		MaxScore:       10,
		ScoringMode:    ModePartial,
		CorrectOptions: []string{"A"},
		PartialRules:   []PartialRule{{Selected: []string{"A"}, Score: 11}},
	}
	require.True(t, domain.IsCode(outOfRange.Validate(mc), domain.CodeValidation))

	ok := &SolutionRules{MaxScore: 10, ScoringMode: ModeAllOrNothing, CorrectOptions: []string{"A"}}
	require.NoError(t, ok.Validate(content))
}

func TestContentValidate(t *testing.T) {
	valid := scContent()
	require.NoError(t, valid.Validate())

	noStem := &TaskContent{Type: TypeShortAnswer}
	require.True(t, domain.IsCode(noStem.Validate(), domain.CodeValidation))

	oneOption := scContent()
	oneOption.Options = oneOption.Options[:1]
	require.True(t, domain.IsCode(oneOption.Validate(), domain.CodeValidation))
}
