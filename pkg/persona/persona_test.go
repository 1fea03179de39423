package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := Persona{
		ID:                "test",
		Nickname:          "Hana",
		Language:          LanguageJapanese,
		SystemInstruction: "You are a warm conversation partner",
		Pitch:             PitchHigh,
	}

	prompt := BuildSystemPrompt(p)

	if !strings.Contains(prompt, "[IDENTITY]: You are Hana") {
		t.Error("prompt missing identity block")
	}
	if !strings.Contains(prompt, "EXCLUSIVELY IN JAPANESE") {
		t.Error("prompt missing language lock")
	}
	if !strings.Contains(prompt, "[PITCH]: Adjust your voice to High") {
		t.Error("prompt missing pitch directive")
	}
	if strings.Contains(prompt, "[TECHNICAL_VOCAL_STYLE]") {
		t.Error("vocal style block present without advanced mode")
	}
}

func TestBuildSystemPromptAdvanced(t *testing.T) {
	p := Persona{
		Nickname:     "Akane",
		Language:     LanguageEnglish,
		Pitch:        PitchNormal,
		AdvancedMode: true,
		AdvancedVocal: VocalSettings{
			Texture:    []string{"husky", "soft"},
			Breathing:  []string{"subtle"},
			Expression: []string{"relaxed"},
		},
	}

	prompt := BuildSystemPrompt(p)

	if !strings.Contains(prompt, "[TECHNICAL_VOCAL_STYLE]") {
		t.Fatal("missing vocal style block")
	}
	if !strings.Contains(prompt, "Texture: husky, soft.") {
		t.Error("missing texture traits")
	}
	if !strings.Contains(prompt, "Respiration: subtle.") {
		t.Error("missing breathing traits")
	}
	if !strings.Contains(prompt, "Dynamics: relaxed.") {
		t.Error("missing expression traits")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(Seed())

	personas := store.List()
	if len(personas) == 0 {
		t.Fatal("expected seeded personas")
	}

	p, ok := store.FindByID("seed-hana")
	if !ok {
		t.Fatal("seed-hana not found")
	}
	if p.Nickname != "Hana" {
		t.Errorf("expected nickname Hana, got %s", p.Nickname)
	}

	if _, ok := store.FindByID("missing"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestFileStoreSeedsWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if len(store.List()) != len(Seed()) {
		t.Errorf("expected %d seeded personas, got %d", len(Seed()), len(store.List()))
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("persona file not written: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	p := New("Custom", "Kiri")
	p.Voice = VoicePuck
	p.DetuneSemitones = 1.5
	if err := store.Save(p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Reload from disk to verify persistence.
	reloaded, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	got, ok := reloaded.FindByID(p.ID)
	if !ok {
		t.Fatal("saved persona not found after reload")
	}
	if got.Voice != VoicePuck {
		t.Errorf("expected voice Puck, got %s", got.Voice)
	}
	if got.DetuneSemitones != 1.5 {
		t.Errorf("expected detune 1.5, got %f", got.DetuneSemitones)
	}

	if err := reloaded.Delete(p.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := reloaded.FindByID(p.ID); ok {
		t.Error("persona still present after delete")
	}
}

func TestSaveRequiresID(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Save(Persona{Name: "no id"}); err == nil {
		t.Error("expected error saving persona without id")
	}
}
