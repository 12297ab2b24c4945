package agent

import (
	"regexp"
	"strings"
)

var confidenceNumber = regexp.MustCompile(`(\d+)`)

// extractPlanAndConfidence pulls the action plan and confidence score
// out of the agent's messages. The agent is prompted to reply with an
// "ACTION PLAN:" block followed by a "CONFIDENCE SCORE: N%" line; both
// markers are matched case-insensitively and either may be absent.
// Scores outside [0,100] are discarded.
func extractPlanAndConfidence(messages []message) (string, *int) {
	var actionPlan string
	var confidence *int

	for _, m := range messages {
		if m.Type != "devin_message" && m.Type != "agent_message" {
			continue
		}
		upper := strings.ToUpper(m.Message)
		if !strings.Contains(upper, "ACTION PLAN:") {
			continue
		}

		var planLines []string
		planStarted := false
		for _, line := range strings.Split(m.Message, "\n") {
			upperLine := strings.ToUpper(line)
			switch {
			case strings.Contains(upperLine, "ACTION PLAN:"):
				planStarted = true
			case strings.Contains(upperLine, "CONFIDENCE SCORE:") || strings.Contains(upperLine, "CONFIDENCE:"):
				planStarted = false
				if score, ok := parseConfidence(line); ok {
					confidence = &score
				}
			case planStarted && strings.TrimSpace(line) != "":
				planLines = append(planLines, strings.TrimSpace(line))
			}
		}

		if len(planLines) > 0 {
			actionPlan = strings.Join(planLines, "\n")
		}
	}

	return actionPlan, confidence
}

// parseConfidence extracts the first integer after the last colon of a
// confidence line ("CONFIDENCE SCORE: 85%" → 85) and range-checks it.
func parseConfidence(line string) (int, bool) {
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return 0, false
	}
	match := confidenceNumber.FindString(line[idx+1:])
	if match == "" {
		return 0, false
	}
	score := 0
	for _, d := range match {
		score = score*10 + int(d-'0')
		if score > 100 {
			return 0, false
		}
	}
	return score, true
}
