package policy

import (
	"strings"
	"testing"
)

func FuzzMatchPattern(f *testing.F) {
	f.Add("task:*", "task:create")
	f.Add("dispute:resolve", "dispute:resolve")
	f.Add("", "")
	f.Add("*", "anything")
	f.Add("offer", "offer:accept")

	f.Fuzz(func(t *testing.T, pattern, capability string) {
		got := MatchPattern(pattern, capability)
		if pattern == "" || capability == "" {
			if got {
				t.Errorf("empty pattern or capability matched: %q %q", pattern, capability)
			}
			return
		}
		if pattern == capability && !got {
			t.Errorf("exact pattern %q did not match", pattern)
		}
		if got && !strings.HasSuffix(pattern, "*") && pattern != capability {
			t.Errorf("non-wildcard %q matched %q", pattern, capability)
		}
		if got && strings.HasSuffix(pattern, "*") && !strings.HasPrefix(capability, strings.TrimSuffix(pattern, "*")) {
			t.Errorf("wildcard %q matched %q without its prefix", pattern, capability)
		}
	})
}
