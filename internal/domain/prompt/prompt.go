// Package prompt renders worksheet steps 0-2 into the option generation prompt.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/okian/casve/internal/domain/worksheet"
)

// System is the instruction sent ahead of every generation prompt.
const System = `You are a career counseling expert specializing in the CASVE (Communication, Analysis, Synthesis, Valuing, Execution) decision-making model.
Your task is to generate personalized career or decision alternatives based on the user's profile, problem definition, and analysis criteria.

Generate 3-5 realistic and actionable options that:
1. Align with the user's values, interests, and strengths
2. Consider their constraints and concerns
3. Address their decision-making problem
4. Can be evaluated using their criteria

Return the response in JSON format with the following structure:
{
  "options": [
    {
      "title": "Option title (brief, clear)",
      "description": "2-3 sentence overview",
      "profile": {
        "coreRole": "Main role/responsibility",
        "requiredSkills": "Key skills needed",
        "environment": "Work environment description",
        "growth": "Growth potential and trajectory"
      },
      "matchReason": "Why this fits the user (2-3 sentences)"
    }
  ]
}

Respond ONLY with valid JSON, no additional text.`

const closing = "Based on this information, generate 3-5 personalized career/decision options."

// Build serialises the three steps in a fixed order. Required lines are always
// present; optional lines are omitted when empty. Lists are comma-joined.
func Build(s0 worksheet.Step0, s1 worksheet.Step1, s2 worksheet.Step2) string {
	parts := []string{"# User Profile and Decision Context\n"}

	parts = append(parts,
		"## Step 0: Self Profile",
		line("Values", join(s0.Values)),
		line("Interests", join(s0.Interests)),
		line("Strengths", join(s0.Strengths)),
	)
	parts = appendIf(parts, "Must-Have Constraints", join(s0.MustHaveConstraints))
	parts = appendIf(parts, "Nice-to-Have Constraints", join(s0.NiceToHaveConstraints))
	parts = appendIf(parts, "Current Concerns", s0.Concerns)

	parts = append(parts, "\n## Step 1: Problem Definition")
	parts = appendIf(parts, "Decision Problem", s1.ProblemDefinition)
	parts = appendIf(parts, "Internal Signals", join(s1.InternalCues))
	parts = appendIf(parts, "External Signals", join(s1.ExternalCues))
	parts = appendIf(parts, "Key Questions", join(s1.KeyQuestions))

	parts = append(parts, "\n## Step 2: Evaluation Criteria")
	parts = appendIf(parts, "Comparison Criteria", join(s2.EvaluationCriteria))
	parts = appendIf(parts, "Additional Constraints", join(s2.Constraints))

	parts = append(parts, "\n---", closing)
	return strings.Join(parts, "\n")
}

// ForSession builds the prompt from a session's steps 0-2.
func ForSession(s *worksheet.Session) string {
	return Build(s.Step0, s.Step1, s.Step2)
}

// Fingerprint identifies a prompt; equal prompts give equal fingerprints.
func Fingerprint(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}

func line(label, value string) string { return "**" + label + "**: " + value }

func appendIf(parts []string, label, value string) []string {
	if value == "" {
		return parts
	}
	return append(parts, line(label, value))
}

func join(v []string) string { return strings.Join(v, ", ") }
