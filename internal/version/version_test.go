package version

import "testing"

func TestGet(t *testing.T) {
	if got := Get(); got == "" || got != "0.1.0" {
		t.Errorf("Get() = %q, want %q", got, "0.1.0")
	}
}

func TestString(t *testing.T) {
	orig := Commit
	t.Cleanup(func() { Commit = orig })

	Commit = ""
	if got := String(); got != Get() {
		t.Errorf("String() = %q without a commit", got)
	}

	Commit = "0123456789abcdef"
	if got, want := String(), Get()+" (0123456)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
