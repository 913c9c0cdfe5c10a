package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestValidateTopic(t *testing.T) {
	if err := ValidateTopic(Topic{ID: 12, Title: "Login loop"}); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	if err := ValidateTopic(Topic{ID: 0, Title: "x"}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
	if err := ValidateTopic(Topic{ID: 3, Title: "  "}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic for blank title, got %v", err)
	}
}

func validRecord() *AnalysisRecord {
	return &AnalysisRecord{
		TopicID: 7,
		Summary: TopicSummary{Title: "Can't export", Category: "support", TotalPosts: 3},
		QAPairs: []QAPair{
			{Question: Question{Username: "ann", Content: "How do I export?"}, Response: Response{Username: "staff", Content: "Use the menu."}},
			{Question: Question{Username: "bo", Content: "CSV too?"}, Response: Response{Username: "staff", Content: "Yes."}},
		},
	}
}

func TestValidateAnalysis_AssignsSequence(t *testing.T) {
	rec := validRecord()
	if err := ValidateAnalysis(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.QAPairs[0].Sequence != 1 || rec.QAPairs[1].Sequence != 2 {
		t.Errorf("sequences = %d,%d", rec.QAPairs[0].Sequence, rec.QAPairs[1].Sequence)
	}
}

func TestValidateAnalysis_RenumbersByPosition(t *testing.T) {
	cases := []struct {
		name string
		seqs [2]int
	}{
		{"gap then missing", [2]int{2, 0}},
		{"repeated", [2]int{1, 1}},
		{"reversed", [2]int{5, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			rec.QAPairs[0].Sequence = tc.seqs[0]
			rec.QAPairs[1].Sequence = tc.seqs[1]
			if err := ValidateAnalysis(rec); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.QAPairs[0].Sequence != 1 || rec.QAPairs[1].Sequence != 2 {
				t.Errorf("sequences = %d,%d", rec.QAPairs[0].Sequence, rec.QAPairs[1].Sequence)
			}
		})
	}
}

func TestValidateAnalysis_NoPairsIsValid(t *testing.T) {
	rec := validRecord()
	rec.QAPairs = nil
	if err := ValidateAnalysis(rec); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidateAnalysis_Failures(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*AnalysisRecord)
		want error
	}{
		{"missing summary", func(r *AnalysisRecord) { r.Summary = TopicSummary{} }, ErrMissingSummary},
		{"no topic", func(r *AnalysisRecord) { r.TopicID = 0 }, ErrInvalidTopic},
		{"empty question", func(r *AnalysisRecord) { r.QAPairs[0].Question.Content = "" }, ErrInvalidQAPair},
		{"empty response", func(r *AnalysisRecord) { r.QAPairs[1].Response.Content = " " }, ErrInvalidQAPair},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.mut(rec)
			err := ValidateAnalysis(rec)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestParseSourceKinds(t *testing.T) {
	got, err := ParseSourceKinds("forum, Video")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != SourceForum || got[1] != SourceVideo {
		t.Errorf("got %v", got)
	}
	if got, _ := ParseSourceKinds(""); got != nil {
		t.Errorf("expected nil for empty, got %v", got)
	}
	if _, err := ParseSourceKinds("forum,podcast"); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("expected ErrInvalidSource, got %v", err)
	}
}

func TestFlexBool(t *testing.T) {
	cases := map[string]bool{
		`true`: true, `false`: false, `"yes"`: true, `"No"`: false,
		`1`: true, `0`: false, `null`: false, `"true"`: true,
	}
	for in, want := range cases {
		var v struct {
			B FlexBool `json:"b"`
		}
		if err := json.Unmarshal([]byte(`{"b":`+in+`}`), &v); err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if bool(v.B) != want {
			t.Errorf("%s: got %v want %v", in, v.B, want)
		}
	}
	var v struct {
		B FlexBool `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"b":[1]}`), &v); err == nil {
		t.Error("expected error for array")
	}
}

func TestStageError(t *testing.T) {
	err := fmt.Errorf("analyze: %w", NewStageError(42, StageParse, fmt.Errorf("bad json: %w", ErrParse)))
	if StageOf(err) != StageParse {
		t.Errorf("StageOf = %q", StageOf(err))
	}
	if !errors.Is(err, ErrParse) {
		t.Error("expected errors.Is ErrParse")
	}
	if Kind(err) != ErrParse {
		t.Errorf("Kind = %v", Kind(err))
	}
	if StageOf(errors.New("plain")) != "" {
		t.Error("expected empty stage")
	}
	if Kind(errors.New("plain")) != nil {
		t.Error("expected nil kind")
	}
}
