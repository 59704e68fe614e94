package texts

import (
	"strings"
	"testing"
)

func TestAllKeysHaveTemplates(t *testing.T) {
	keys := []string{
		WelcomePrivate,
		Stats,
		AdminGranted,
		AdminNeeded,
		AdminReminder,
		LinkRemoved,
		LinkMuted,
		RefreshDone,
		RefreshAllDone,
		BroadcastEmpty,
		BroadcastPending,
		BroadcastMissing,
		BroadcastCancelled,
		BroadcastProgress,
		BroadcastDone,
	}
	for _, key := range keys {
		if Get(key) == key {
			t.Errorf("no template for key %q", key)
		}
	}
}

func TestRenderSubstitutes(t *testing.T) {
	out := Render(LinkMuted, map[string]any{
		"user_name":    "Spammy",
		"mute_minutes": 10,
		"threshold":    3,
	})
	for _, want := range []string{"Spammy", "10", "3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered mute notice %q lacks %q", out, want)
		}
	}
	if strings.Contains(out, "{{") {
		t.Fatalf("unexpanded placeholder in %q", out)
	}
}

func TestGetUnknownKeyFallsBack(t *testing.T) {
	if got := Get("no_such_key"); got != "no_such_key" {
		t.Fatalf("Get(unknown) = %q, want the key itself", got)
	}
}
