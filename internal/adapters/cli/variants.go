// Package cli describes the interactive coding-agent CLIs the orchestrator
// can drive. Variant selection is data-driven: behavior differences between
// CLI families live in the variant table, never in call sites.
package cli

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// PromptDelivery selects how the initial prompt reaches the CLI.
type PromptDelivery string

const (
	// DeliveryTyped streams the prompt into the session in chunks and
	// finishes with a bare Enter.
	DeliveryTyped PromptDelivery = "typed"
	// DeliveryFile passes the prompt as a file path on the launch command;
	// only a single Enter is sent after launch.
	DeliveryFile PromptDelivery = "file"
)

// Variant describes one CLI family.
type Variant struct {
	Name           string
	Binary         string
	ModelFlag      string
	PromptDelivery PromptDelivery
	PromptFileFlag string
	// ClaudeFamily CLIs honor the approval-tool timeout environment knob.
	ClaudeFamily bool
	// GLMFamily CLIs route a Claude-compatible CLI at a GLM endpoint and
	// need the API token exported from the configured env var.
	GLMFamily     bool
	HealthPattern *regexp.Regexp
	StuckPatterns []*regexp.Regexp
}

// LaunchCommand builds the shell command that starts the CLI.
func (v Variant) LaunchCommand(model, promptFile string) string {
	var b strings.Builder
	b.WriteString(v.Binary)
	if model != "" && v.ModelFlag != "" {
		fmt.Fprintf(&b, " %s %s", v.ModelFlag, model)
	}
	if v.PromptDelivery == DeliveryFile && promptFile != "" && v.PromptFileFlag != "" {
		fmt.Fprintf(&b, " %s %q", v.PromptFileFlag, promptFile)
	}
	return b.String()
}

// FormatMessage prepares a message for injection into a running session.
// Newlines would submit prematurely in interactive CLIs, so they collapse
// to spaces.
func (v Variant) FormatMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.TrimSpace(msg)
}

// LooksStuck reports whether captured output matches a known stuck state.
func (v Variant) LooksStuck(capture string) bool {
	for _, p := range v.StuckPatterns {
		if p.MatchString(capture) {
			return true
		}
	}
	return false
}

// LooksHealthy reports whether captured output shows the CLI's prompt.
func (v Variant) LooksHealthy(capture string) bool {
	if v.HealthPattern == nil {
		return true
	}
	return v.HealthPattern.MatchString(capture)
}

var variants = map[string]Variant{
	"claude": {
		Name:           "claude",
		Binary:         "claude",
		ModelFlag:      "--model",
		PromptDelivery: DeliveryTyped,
		ClaudeFamily:   true,
		HealthPattern:  regexp.MustCompile(`(?i)(claude|welcome|\? for shortcuts)`),
		StuckPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)rate limit`),
			regexp.MustCompile(`(?i)api error`),
			regexp.MustCompile(`(?i)login required`),
		},
	},
	"gemini": {
		Name:           "gemini",
		Binary:         "gemini",
		ModelFlag:      "--model",
		PromptDelivery: DeliveryTyped,
		HealthPattern:  regexp.MustCompile(`(?i)gemini`),
		StuckPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)quota exceeded`),
			regexp.MustCompile(`(?i)authentication`),
		},
	},
	"codex": {
		Name:           "codex",
		Binary:         "codex",
		ModelFlag:      "--model",
		PromptDelivery: DeliveryFile,
		PromptFileFlag: "--prompt-file",
		HealthPattern:  regexp.MustCompile(`(?i)codex`),
		StuckPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)rate limit`),
		},
	},
	"glm": {
		Name:           "glm",
		Binary:         "claude",
		ModelFlag:      "--model",
		PromptDelivery: DeliveryTyped,
		ClaudeFamily:   true,
		GLMFamily:      true,
		HealthPattern:  regexp.MustCompile(`(?i)(claude|welcome)`),
		StuckPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)rate limit`),
			regexp.MustCompile(`(?i)invalid token`),
		},
	},
}

// Lookup resolves a cli_type to its variant. Exact names win; otherwise a
// family prefix matches (so "glm-4.7" resolves to the glm variant).
func Lookup(cliType string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(cliType))
	if v, ok := variants[key]; ok {
		return v, nil
	}
	for name, v := range variants {
		if strings.HasPrefix(key, name) {
			return v, nil
		}
	}
	return Variant{}, core.ErrSemantic(core.CodeUnknownCLITool, fmt.Sprintf("unknown cli_type %q", cliType))
}

// Names returns the registered variant names.
func Names() []string {
	out := make([]string, 0, len(variants))
	for name := range variants {
		out = append(out, name)
	}
	return out
}
