package commands

import (
	"strings"
	"testing"

	"github.com/kisaragi-dev/yomivox/internal/store"
)

func TestApplySettingToggles(t *testing.T) {
	t.Parallel()

	s := store.DefaultSettings("g1")

	if err := applySetting(&s, "read_emoji", "on"); err != nil {
		t.Fatalf("applySetting: %v", err)
	}
	if !s.ReadEmoji {
		t.Error("read_emoji not set")
	}

	if err := applySetting(&s, "skip_urls", "off"); err != nil {
		t.Fatalf("applySetting: %v", err)
	}
	if s.SkipURLs {
		t.Error("skip_urls not cleared")
	}

	if err := applySetting(&s, "read_emoji", "maybe"); err == nil {
		t.Error("applySetting accepted a non-boolean value")
	}
	if err := applySetting(&s, "volume", "on"); err == nil {
		t.Error("applySetting accepted an unknown setting")
	}
}

func TestApplySettingMaxChars(t *testing.T) {
	t.Parallel()

	s := store.DefaultSettings("g1")

	if err := applySetting(&s, "max_chars", "200"); err != nil {
		t.Fatalf("applySetting: %v", err)
	}
	if s.MaxChars != 200 {
		t.Errorf("MaxChars = %d, want 200", s.MaxChars)
	}

	err := applySetting(&s, "max_chars", "5")
	if err == nil || !strings.Contains(err.Error(), "between") {
		t.Errorf("out-of-range max_chars: %v", err)
	}
	if err := applySetting(&s, "max_chars", "many"); err == nil {
		t.Error("applySetting accepted a non-numeric max_chars")
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	if got := clamp(3.0, store.MinSpeed, store.MaxSpeed); got != store.MaxSpeed {
		t.Errorf("clamp above = %v", got)
	}
	if got := clamp(0.1, store.MinSpeed, store.MaxSpeed); got != store.MinSpeed {
		t.Errorf("clamp below = %v", got)
	}
	if got := clamp(1.2, store.MinSpeed, store.MaxSpeed); got != 1.2 {
		t.Errorf("clamp inside = %v", got)
	}
}
