package reportcache

import (
	"testing"
)

func TestReportCache_FreshSuppressesRepeats(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	got := c.Fresh([]string{"dave", "erin"})
	if len(got) != 2 {
		t.Fatalf("first report should pass everything, got %v", got)
	}
	got = c.Fresh([]string{"erin", "frank", "dave"})
	if len(got) != 1 || got[0] != "frank" {
		t.Fatalf("unexpected fresh set: %v", got)
	}
	hits, misses, _ := c.Stats()
	if hits != 2 || misses != 3 {
		t.Fatalf("hits=%d misses=%d want 2/3", hits, misses)
	}
}

func TestReportCache_DuplicatesWithinOneCall(t *testing.T) {
	c, _ := New(8)
	got := c.Fresh([]string{"dave", "dave"})
	if len(got) != 1 {
		t.Fatalf("duplicates in one batch should collapse, got %v", got)
	}
}

func TestReportCache_EvictionReopensName(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.Fresh([]string{"a", "b"})
	c.Fresh([]string{"c"}) // evicts "a"
	if got := c.Len(); got != 2 {
		t.Fatalf("len=%d want=2", got)
	}
	if got := c.Fresh([]string{"a"}); len(got) != 1 {
		t.Fatalf("evicted name should be reported again, got %v", got)
	}
	if _, _, ev := c.Stats(); ev < 1 {
		t.Fatalf("evictions=%d want>=1", ev)
	}
}

func TestReportCache_ForgetAndPurge(t *testing.T) {
	c, _ := New(4)
	c.Fresh([]string{"a", "b", "c"})
	c.Forget("b")
	if got := c.Fresh([]string{"b"}); len(got) != 1 {
		t.Fatalf("forgotten name should be fresh, got %v", got)
	}
	c.Purge()
	if got := c.Len(); got != 0 {
		t.Fatalf("len=%d want=0 after purge", got)
	}
	if _, _, ev := c.Stats(); ev < 3 {
		t.Fatalf("purge should count evictions, got %d", ev)
	}
}

func TestDisabledCache(t *testing.T) {
	c, err := New(0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if got := c.Fresh([]string{"dave", "dave", "erin"}); len(got) != 2 {
			t.Fatalf("disabled cache must pass names through (deduped), got %v", got)
		}
	}
	c.Forget("dave")
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("disabled cache should be empty")
	}
	if h, m, e := c.Stats(); h != 0 || m != 0 || e != 0 {
		t.Fatalf("disabled cache should not track stats")
	}
}
