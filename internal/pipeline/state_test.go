package pipeline

import "testing"

func TestCanTransitionAdvancesOneStageAtATime(t *testing.T) {
	t.Parallel()

	order := []State{StateFetching, StateNormalizing, StateResolving, StateAnalyzing, StateDeduping, StateCommitting, StateDone}
	for i := 0; i < len(order)-1; i++ {
		if !CanTransition(order[i], order[i+1]) {
			t.Fatalf("transition %s -> %s should be allowed", order[i], order[i+1])
		}
	}
}

func TestCanTransitionRejectsSkippedStages(t *testing.T) {
	t.Parallel()

	if CanTransition(StateFetching, StateResolving) {
		t.Fatal("fetching must not skip ahead to resolving")
	}
	if CanTransition(StateDeduping, StateDone) {
		t.Fatal("deduping must not skip committing")
	}
	if CanTransition(StateCommitting, StateFetching) {
		t.Fatal("committing must not rewind to fetching")
	}
}

func TestCanTransitionAllowsFailureFromLiveStatesOnly(t *testing.T) {
	t.Parallel()

	live := []State{StateFetching, StateNormalizing, StateResolving, StateAnalyzing, StateDeduping, StateCommitting}
	for _, state := range live {
		if !CanTransition(state, StateFailed) {
			t.Fatalf("%s should be allowed to fail", state)
		}
	}
	if CanTransition(StateDone, StateFailed) {
		t.Fatal("done is terminal")
	}
	if CanTransition(StateFailed, StateFailed) {
		t.Fatal("failed is terminal")
	}
}

func TestCanTransitionCommitRetryReentersResolving(t *testing.T) {
	t.Parallel()

	if !CanTransition(StateCommitting, StateResolving) {
		t.Fatal("a commit that lost a write race re-enters resolving")
	}
	if CanTransition(StateAnalyzing, StateResolving) {
		t.Fatal("only committing may re-enter resolving")
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	if !Terminal(StateDone) || !Terminal(StateFailed) {
		t.Fatal("done and failed are terminal")
	}
	if Terminal(StateCommitting) {
		t.Fatal("committing is not terminal")
	}
}
