package selection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var builtins = []WorkflowCandidate{
	{Name: "feature", Keywords: []string{"add", "build", "implement"}, Priority: 50},
	{Name: "bugfix", Keywords: []string{"fix", "bug", "broken"}, Priority: 60},
	{Name: "quick", Keywords: []string{"quick", "small"}, Priority: 10},
}

func TestSelectByKeyword(t *testing.T) {
	require.Equal(t, "bugfix", Select(builtins, "fix the broken login button"))
}

func TestSelectForcesBugfixOnIssueRef(t *testing.T) {
	require.Equal(t, "bugfix", Select(builtins, "address #482 in the auth service"))
	require.Equal(t, "bugfix", Select(builtins, "resolve issue 19"))
	require.Equal(t, "bugfix", Select(builtins, "port over GH-7"))
}

func TestSelectShortFeatureBecomesQuick(t *testing.T) {
	require.Equal(t, "quick", Select(builtins, "add logout"))
}

func TestDetectDomains(t *testing.T) {
	domains := DetectDomains("add OAuth login and a new API endpoint")
	require.Contains(t, domains, DomainAuth)
	require.Contains(t, domains, DomainAPI)
}

func TestScoreStartingKeywordBonus(t *testing.T) {
	s := Score(WorkflowCandidate{Name: "bugfix", Keywords: []string{"fix"}, Priority: 0}, "fix login bug")
	require.Equal(t, 30.0, s)
}
