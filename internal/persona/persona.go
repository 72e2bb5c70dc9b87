// Package persona provides the assistant's identity and the system-prompt
// text derived from it.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona defines who the assistant is and how it speaks. The rendered
// text is the base of every system message the orchestrator assembles.
type Persona struct {
	Identity Identity `yaml:"identity" json:"identity"`
	Style    Style    `yaml:"style" json:"style"`

	// System overrides the rendered prompt entirely when set.
	System string `yaml:"system,omitempty" json:"system,omitempty"`
}

// Identity defines the assistant's name, role, and personality traits.
type Identity struct {
	Name        string   `yaml:"name" json:"name"`
	Role        string   `yaml:"role" json:"role"`
	Personality []string `yaml:"personality" json:"personality"`
}

// Style defines communication preferences.
type Style struct {
	Tone        string `yaml:"tone" json:"tone"`
	DetailLevel string `yaml:"detail_level" json:"detail_level"`
	UseEmoji    bool   `yaml:"use_emoji" json:"use_emoji"`
}

// Default returns the built-in convoke persona.
func Default() *Persona {
	return &Persona{
		Identity: Identity{
			Name: "Convoke",
			Role: "conversational assistant",
			Personality: []string{
				"helpful",
				"precise",
				"concise",
			},
		},
		Style: Style{
			Tone:        "friendly",
			DetailLevel: "balanced",
			UseEmoji:    false,
		},
	}
}

// LoadFile reads a persona definition from a YAML file.
func LoadFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	if p.Identity.Name == "" && p.System == "" {
		return nil, fmt.Errorf("persona file %s defines neither identity.name nor system", path)
	}
	return &p, nil
}

// Render produces the base system-prompt text for this persona.
func (p *Persona) Render() string {
	if p.System != "" {
		return p.System
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a %s.", p.Identity.Name, p.Identity.Role)

	if len(p.Identity.Personality) > 0 {
		fmt.Fprintf(&sb, " You are %s.", strings.Join(p.Identity.Personality, ", "))
	}

	if p.Style.Tone != "" {
		fmt.Fprintf(&sb, " Keep your tone %s", p.Style.Tone)
		if p.Style.DetailLevel != "" {
			fmt.Fprintf(&sb, " and your answers %s", p.Style.DetailLevel)
		}
		sb.WriteString(".")
	}

	if !p.Style.UseEmoji {
		sb.WriteString(" Do not use emoji.")
	}

	return sb.String()
}
