package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRender(t *testing.T) {
	text := Default().Render()
	if !strings.Contains(text, "You are Convoke") {
		t.Fatalf("unexpected render: %q", text)
	}
	if !strings.Contains(text, "Do not use emoji.") {
		t.Fatalf("emoji rule missing: %q", text)
	}
}

func TestSystemOverrideWinsOverIdentity(t *testing.T) {
	p := &Persona{
		Identity: Identity{Name: "Ignored", Role: "ignored"},
		System:   "You are a terse operations bot.",
	}
	if got := p.Render(); got != "You are a terse operations bot." {
		t.Fatalf("got %q", got)
	}
}

func writePersonaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writePersonaFile(t, `
identity:
  name: Echo
  role: support assistant
  personality:
    - patient
    - direct
style:
  tone: calm
  detail_level: detailed
  use_emoji: true
`)

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Identity.Name != "Echo" {
		t.Fatalf("name = %q", p.Identity.Name)
	}

	text := p.Render()
	if !strings.Contains(text, "You are Echo, a support assistant.") {
		t.Fatalf("render: %q", text)
	}
	if !strings.Contains(text, "patient, direct") {
		t.Fatalf("personality missing: %q", text)
	}
	if strings.Contains(text, "Do not use emoji.") {
		t.Fatalf("emoji rule should be absent: %q", text)
	}
}

func TestLoadFileSystemOnly(t *testing.T) {
	path := writePersonaFile(t, `system: "Answer only with facts."`)

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Render() != "Answer only with facts." {
		t.Fatalf("render: %q", p.Render())
	}
}

func TestLoadFileRejectsEmpty(t *testing.T) {
	path := writePersonaFile(t, `style: {tone: calm}`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for persona without name or system")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
