package persona

import (
	"strings"
)

// BuildSystemPrompt composes the system instruction sent in the transport
// handshake. The bracketed directive blocks are what the remote voice
// engine keys on, so their order and casing matter.
func BuildSystemPrompt(p Persona) string {
	var b strings.Builder

	b.WriteString("[IDENTITY]: You are ")
	b.WriteString(p.Nickname)
	b.WriteString(". ")
	b.WriteString(p.SystemInstruction)
	b.WriteString(". ")

	b.WriteString("\n[MANDATORY_LANGUAGE_LOCK]: YOU MUST COMMUNICATE EXCLUSIVELY IN ")
	b.WriteString(strings.ToUpper(string(p.Language)))
	b.WriteString(". DO NOT USE ANY OTHER LANGUAGE.")

	b.WriteString("\n[PITCH]: Adjust your voice to ")
	b.WriteString(string(p.Pitch))
	b.WriteString(" pitch levels. ")

	if p.AdvancedMode {
		b.WriteString("\n[TECHNICAL_VOCAL_STYLE]: Act as a high-fidelity vocal engine. Traits: ")
		if len(p.AdvancedVocal.Texture) > 0 {
			b.WriteString("Texture: ")
			b.WriteString(strings.Join(p.AdvancedVocal.Texture, ", "))
			b.WriteString(". ")
		}
		if len(p.AdvancedVocal.Breathing) > 0 {
			b.WriteString("Respiration: ")
			b.WriteString(strings.Join(p.AdvancedVocal.Breathing, ", "))
			b.WriteString(". ")
		}
		if len(p.AdvancedVocal.Expression) > 0 {
			b.WriteString("Dynamics: ")
			b.WriteString(strings.Join(p.AdvancedVocal.Expression, ", "))
			b.WriteString(". ")
		}
		b.WriteString("Integrate realistic vocal fry, husky undertones, and natural gasps for hyper-natural dialog.")
	}

	return b.String()
}
