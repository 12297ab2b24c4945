package agent

import "testing"

func TestExtractPlanAndConfidence(t *testing.T) {
	tests := []struct {
		name       string
		messages   []message
		wantPlan   string
		wantScore  int
		scoreIsNil bool
	}{
		{
			name: "plan with percent score",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\n1. Fix the bug\n2. Add regression test\nCONFIDENCE SCORE: 85%"},
			},
			wantPlan:  "1. Fix the bug\n2. Add regression test",
			wantScore: 85,
		},
		{
			name: "score without percent sign",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\n- investigate\nCONFIDENCE SCORE: 70"},
			},
			wantPlan:  "- investigate",
			wantScore: 70,
		},
		{
			name: "lowercase markers",
			messages: []message{
				{Type: "agent_message", Message: "action plan:\nstep one\nconfidence score: 60%"},
			},
			wantPlan:  "step one",
			wantScore: 60,
		},
		{
			name: "short confidence marker",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\ndo the thing\nConfidence: 42%"},
			},
			wantPlan:  "do the thing",
			wantScore: 42,
		},
		{
			name: "plan without score",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\njust one step"},
			},
			wantPlan:   "just one step",
			scoreIsNil: true,
		},
		{
			name: "score out of range discarded",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\nstep\nCONFIDENCE SCORE: 150%"},
			},
			wantPlan:   "step",
			scoreIsNil: true,
		},
		{
			name: "non-agent messages ignored",
			messages: []message{
				{Type: "user_message", Message: "ACTION PLAN:\nfrom the user\nCONFIDENCE SCORE: 99%"},
			},
			wantPlan:   "",
			scoreIsNil: true,
		},
		{
			name: "no plan marker",
			messages: []message{
				{Type: "devin_message", Message: "I looked at the issue and it seems tricky."},
			},
			wantPlan:   "",
			scoreIsNil: true,
		},
		{
			name: "later message wins",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\ndraft plan\nCONFIDENCE SCORE: 40%"},
				{Type: "devin_message", Message: "ACTION PLAN:\nfinal plan\nCONFIDENCE SCORE: 90%"},
			},
			wantPlan:  "final plan",
			wantScore: 90,
		},
		{
			name: "blank lines inside plan skipped",
			messages: []message{
				{Type: "devin_message", Message: "ACTION PLAN:\nfirst\n\nsecond\nCONFIDENCE SCORE: 55%"},
			},
			wantPlan:  "first\nsecond",
			wantScore: 55,
		},
		{
			name:       "empty messages",
			messages:   nil,
			wantPlan:   "",
			scoreIsNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, score := extractPlanAndConfidence(tt.messages)
			if plan != tt.wantPlan {
				t.Errorf("plan = %q, want %q", plan, tt.wantPlan)
			}
			if tt.scoreIsNil {
				if score != nil {
					t.Errorf("score = %d, want nil", *score)
				}
				return
			}
			if score == nil {
				t.Fatalf("score = nil, want %d", tt.wantScore)
			}
			if *score != tt.wantScore {
				t.Errorf("score = %d, want %d", *score, tt.wantScore)
			}
		})
	}
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		line   string
		want   int
		wantOK bool
	}{
		{"CONFIDENCE SCORE: 85%", 85, true},
		{"CONFIDENCE SCORE: 100", 100, true},
		{"CONFIDENCE SCORE: 0%", 0, true},
		{"confidence: 7", 7, true},
		{"CONFIDENCE SCORE: none", 0, false},
		{"CONFIDENCE SCORE: 101%", 0, false},
		{"no colon here", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseConfidence(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseConfidence(%q) = (%d, %v), want (%d, %v)", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}
