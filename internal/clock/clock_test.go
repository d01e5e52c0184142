package clock

import (
	"testing"
	"time"
)

func TestManualAfterAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	fired := <-c.After(5 * time.Second)
	if !fired.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("fired at %v", fired)
	}
	c.Advance(time.Minute)
	if got := c.Since(start); got != time.Minute+5*time.Second {
		t.Fatalf("Since=%v", got)
	}
	if waits := c.Waits(); len(waits) != 1 || waits[0] != 5*time.Second {
		t.Fatalf("unexpected waits %v", waits)
	}
}
