package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResponseValidatesIssue(t *testing.T) {
	require.True(t, ResponseValidatesIssue(SelfEval{Status: "complete", Confidence: 0.8, IssueFound: false}, 0.6))
	require.False(t, ResponseValidatesIssue(SelfEval{Status: "complete", Confidence: 0.4, IssueFound: false}, 0.6))
	require.False(t, ResponseValidatesIssue(SelfEval{Status: "complete", Confidence: 0.8, IssueFound: true}, 0.6))
	require.False(t, ResponseValidatesIssue(SelfEval{Status: "blocked", Confidence: 0.9, IssueFound: false}, 0.6))
}

func TestSubmitAndResolve(t *testing.T) {
	p := NewProtocol(2)
	state := p.Submit(Challenge{From: "tester", To: "implementer", Issue: "tests fail", TS: time.Now()})
	require.Equal(t, StateRerouting, state)
	require.Equal(t, 1, p.Attempt("tester", "implementer"))

	final := p.Advance("tester", "implementer", SelfEval{Status: "complete", Confidence: 0.9, IssueFound: false}, 0.6)
	require.Equal(t, StateResolved, final)
	require.Equal(t, StateIdle, p.State("tester", "implementer"))
}

func TestEscalatesOnCounterChallenge(t *testing.T) {
	p := NewProtocol(2)
	p.Submit(Challenge{From: "tester", To: "implementer", TS: time.Now()})
	final := p.Advance("tester", "implementer", SelfEval{Status: "challenge"}, 0.6)
	require.Equal(t, StateEscalated, final)
}

func TestEscalatesOnExhaustion(t *testing.T) {
	p := NewProtocol(2)
	p.Submit(Challenge{From: "tester", To: "implementer", TS: time.Now()})

	mid := p.Advance("tester", "implementer", SelfEval{Status: "partial", Confidence: 0.9, IssueFound: true}, 0.6)
	require.Equal(t, StateRerouting, mid)
	require.Equal(t, 2, p.Attempt("tester", "implementer"))

	final := p.Advance("tester", "implementer", SelfEval{Status: "partial", Confidence: 0.9, IssueFound: true}, 0.6)
	require.Equal(t, StateEscalated, final)
}

func TestQueuedChallengesTieBreakByTS(t *testing.T) {
	p := NewProtocol(2)
	p.Submit(Challenge{From: "tester", To: "implementer", Issue: "first", TS: time.Now()})

	later := time.Now().Add(time.Second)
	earlier := time.Now().Add(-time.Second)
	p.Submit(Challenge{From: "tester", To: "implementer", Issue: "later", TS: later})
	p.Submit(Challenge{From: "tester", To: "implementer", Issue: "earlier", TS: earlier})

	p.Advance("tester", "implementer", SelfEval{Status: "complete", Confidence: 0.9, IssueFound: false}, 0.6)

	require.Equal(t, "earlier", p.inFlight[pairKey{From: "tester", To: "implementer"}].challenge.Issue)
}
