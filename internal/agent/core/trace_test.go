package core

import "testing"

func TestLedgerIndicesStrictlyIncrease(t *testing.T) {
	var l Ledger
	for i := 0; i < 5; i++ {
		s := l.Add(StepThought, "c", nil)
		if s.Index != i+1 {
			t.Fatalf("index = %d, want %d", s.Index, i+1)
		}
	}
	steps := l.Steps()
	if len(steps) != 5 {
		t.Fatalf("len = %d", len(steps))
	}
	for i, s := range steps {
		if s.Index != i+1 {
			t.Fatalf("steps[%d].Index = %d", i, s.Index)
		}
	}
}

func TestLedgerTodoSnapshotIsolated(t *testing.T) {
	var l Ledger
	todo := []TodoItem{{Task: "a", Status: "pending"}}
	l.Add(StepPlan, "plan", todo)
	todo[0].Status = "done"
	if got := l.Steps()[0].Todo[0].Status; got != "pending" {
		t.Fatalf("snapshot mutated: %q", got)
	}
}

func TestLedgerStepsReturnsCopy(t *testing.T) {
	var l Ledger
	l.Add(StepAnalyze, "x", nil)
	steps := l.Steps()
	steps[0].Content = "mutated"
	if l.Steps()[0].Content != "x" {
		t.Fatal("ledger mutated through Steps copy")
	}
}
