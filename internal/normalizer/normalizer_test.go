package normalizer

import "testing"

func TestNormalizeExtractsVisibleText(t *testing.T) {
	raw := `<div><p>Hello <b>world</b></p><script>track()</script><style>p{color:red}</style></div>`
	if got := Normalize(raw); got != "Hello world" {
		t.Fatalf("Normalize = %q, want %q", got, "Hello world")
	}
}

func TestNormalizeStripsTemplateTokens(t *testing.T) {
	raw := `<p>Dose {dose_mg} twice {{ daily }} today</p>`
	if got := Normalize(raw); got != "Dose  twice  today" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestNormalizeDecodesEntities(t *testing.T) {
	if got := Normalize(`<p>a &amp; b</p>`); got != "a & b" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestNormalizeEmptyAndMalformed(t *testing.T) {
	if got := Normalize("   "); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
	if got := New().Normalize(`<p>unclosed <b>tag`); got != "unclosed tag" {
		t.Fatalf("Normalize malformed = %q", got)
	}
}
