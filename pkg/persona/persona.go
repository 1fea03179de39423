// Package persona defines the voice persona value object and its storage.
// A persona is immutable for the duration of a session.
package persona

import (
	"time"

	"github.com/google/uuid"
)

// Voice names the prebuilt voice models offered by the remote service.
type Voice string

const (
	VoiceZephyr Voice = "Zephyr"
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceKore   Voice = "Kore"
	VoiceFenrir Voice = "Fenrir"
)

// Language constrains the persona's spoken language.
type Language string

const (
	LanguageIndonesian Language = "Indonesia"
	LanguageEnglish    Language = "English"
	LanguageJapanese   Language = "Japanese"
)

// PitchMode is the coarse pitch directive injected into the prompt.
type PitchMode string

const (
	PitchLow    PitchMode = "Low"
	PitchNormal PitchMode = "Normal"
	PitchHigh   PitchMode = "High"
)

// VocalSettings holds the advanced vocal-acoustic descriptors.
type VocalSettings struct {
	Texture    []string `json:"texture"`    // husky, hoarse, soft, deep
	Breathing  []string `json:"breathing"`  // heavy, subtle, frequent_pauses
	Expression []string `json:"expression"` // tension, relaxed, dynamic
}

// Persona captures the voice, language, personality, and acoustic
// parameters for a conversation partner.
type Persona struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Nickname          string        `json:"nickname"`
	Voice             Voice         `json:"voice"`
	Language          Language      `json:"language"`
	SystemInstruction string        `json:"systemInstruction"`
	Pitch             PitchMode     `json:"pitch"`
	Temperature       float64       `json:"temperature"`
	AdvancedMode      bool          `json:"advancedMode"`
	AdvancedVocal     VocalSettings `json:"advancedVocal"`

	// DetuneSemitones shifts egress playback pitch locally. Zero means
	// the voice plays back untouched.
	DetuneSemitones float64 `json:"detuneSemitones"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsZero reports whether the persona is unset.
func (p Persona) IsZero() bool {
	return p.ID == "" && p.Name == ""
}

// New returns a persona with a generated id and creation timestamp.
func New(name, nickname string) Persona {
	return Persona{
		ID:          uuid.NewString(),
		Name:        name,
		Nickname:    nickname,
		Voice:       VoiceKore,
		Language:    LanguageEnglish,
		Pitch:       PitchNormal,
		Temperature: 0.7,
		CreatedAt:   time.Now(),
	}
}

// Seed provides the default personas loaded into an empty store.
func Seed() []Persona {
	now := time.Now()
	return []Persona{
		{
			ID:                "seed-hana",
			Name:              "Ohanashi Default",
			Nickname:          "Hana",
			Voice:             VoiceKore,
			Language:          LanguageIndonesian,
			SystemInstruction: "Kamu adalah teman bicara yang hangat dan penuh empati.",
			Pitch:             PitchNormal,
			Temperature:       0.7,
			CreatedAt:         now,
		},
		{
			ID:                "seed-akane",
			Name:              "Akane",
			Nickname:          "Akane",
			Voice:             VoiceKore,
			Language:          LanguageJapanese,
			SystemInstruction: "あなたは「アカネ」です。穏やかで包容力のあるお姉さんとして話してください。",
			Pitch:             PitchHigh,
			Temperature:       0.7,
			AdvancedMode:      true,
			AdvancedVocal: VocalSettings{
				Texture:   []string{"soft"},
				Breathing: []string{"subtle", "frequent_pauses"},
			},
			DetuneSemitones: 2,
			CreatedAt:       now.Add(time.Millisecond),
		},
		{
			ID:                "seed-rintaro",
			Name:              "Rintarō",
			Nickname:          "Rintarō",
			Voice:             VoiceFenrir,
			Language:          LanguageJapanese,
			SystemInstruction: "あなたは「リンタロウ」です。クールで知的な青年として話してください。",
			Pitch:             PitchLow,
			Temperature:       0.7,
			AdvancedMode:      true,
			AdvancedVocal: VocalSettings{
				Texture:    []string{"deep", "husky"},
				Expression: []string{"relaxed"},
			},
			DetuneSemitones: -3,
			CreatedAt:       now.Add(2 * time.Millisecond),
		},
	}
}
