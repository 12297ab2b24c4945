package orchestrator

import "fmt"

// ScopePrompt asks the agent to analyze an issue and reply with the
// ACTION PLAN / CONFIDENCE SCORE format the agent package extracts.
func ScopePrompt(issueTitle, issueBody string) string {
	if issueBody == "" {
		issueBody = "No description provided"
	}
	return fmt.Sprintf(`Please analyze this GitHub issue and provide:
1. A detailed action plan (step-by-step approach)
2. A confidence score (1-100%%) indicating your ability to resolve this issue

Issue Title: %s
Issue Description: %s

Please format your response as:
ACTION PLAN:
[Your detailed step-by-step plan]

CONFIDENCE SCORE: [Your confidence percentage]%%`, issueTitle, issueBody)
}

// ResolvePrompt asks the agent to implement a fix for the issue and keep
// the tracker updated as it works.
func ResolvePrompt(repo string, issueNumber int, issueTitle, issueBody string) string {
	if issueBody == "" {
		issueBody = "No description provided"
	}
	return fmt.Sprintf(`Please resolve this GitHub issue by implementing the necessary changes:

Repository: %s
Issue #%d: %s
Description: %s

Please:
1. Analyze the issue thoroughly
2. Implement the necessary code changes
3. Create a pull request with your solution
4. Provide regular updates on your progress

Post updates as comments on the GitHub issue as you work.`, repo, issueNumber, issueTitle, issueBody)
}
