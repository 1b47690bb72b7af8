// Package llm implements the language-model provider behind the
// core.LLMProvider capability interface. Enrichment and monitoring calls
// return errors on provider failure; callers apply their documented
// fallbacks (identity enrichment, neutral trajectory).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/core"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
)

// Provider talks to an OpenAI-compatible endpoint.
type Provider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	log            *logging.Logger
}

// NewProvider builds a provider from configuration. The API key is read from
// the environment variable named in cfg.APIKeyEnv; a missing key still
// produces a usable provider whose calls fail, leaving callers on their
// fallback paths.
func NewProvider(cfg config.LLMConfig, log *logging.Logger) *Provider {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}
	return &Provider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		log:            log,
	}
}

var _ core.LLMProvider = (*Provider)(nil)

func (p *Provider) chat(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

const enrichSystem = `You expand terse engineering task descriptions into actionable ones.
Respond with a single JSON object:
{"description": string, "completion_criteria": string, "estimated_complexity": integer 1-10}`

// EnrichTask expands a raw description using stored memories and project
// context as grounding.
func (p *Provider) EnrichTask(ctx context.Context, raw, doneDefinition string, memories []core.Memory, projectContext string) (core.EnrichedTask, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", raw)
	if doneDefinition != "" {
		fmt.Fprintf(&b, "Definition of done: %s\n", doneDefinition)
	}
	if projectContext != "" {
		fmt.Fprintf(&b, "\nProject context:\n%s\n", projectContext)
	}
	if len(memories) > 0 {
		b.WriteString("\nRelevant prior discoveries:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- [%s] %s\n", m.MemoryType, m.Content)
		}
	}

	out, err := p.chat(ctx, enrichSystem, b.String())
	if err != nil {
		return core.EnrichedTask{}, err
	}
	var parsed struct {
		Description         string `json:"description"`
		CompletionCriteria  string `json:"completion_criteria"`
		EstimatedComplexity int    `json:"estimated_complexity"`
	}
	if err := json.Unmarshal([]byte(stripFences(out)), &parsed); err != nil {
		return core.EnrichedTask{}, fmt.Errorf("parsing enrichment: %w", err)
	}
	if parsed.Description == "" {
		parsed.Description = raw
	}
	if parsed.EstimatedComplexity < 1 || parsed.EstimatedComplexity > 10 {
		parsed.EstimatedComplexity = 5
	}
	return core.EnrichedTask{
		Description:         parsed.Description,
		CompletionCriteria:  parsed.CompletionCriteria,
		EstimatedComplexity: parsed.EstimatedComplexity,
	}, nil
}

// GenerateEmbedding returns a vector for the given text.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("creating embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

const trajectorySystem = `You monitor a coding agent's recent terminal output.
Respond with a single JSON object: {"on_track": boolean, "reason": string}`

// AnalyzeTrajectory judges whether an agent's recent output is on track.
func (p *Provider) AnalyzeTrajectory(ctx context.Context, transcript string) (core.TrajectoryJudgment, error) {
	out, err := p.chat(ctx, trajectorySystem, transcript)
	if err != nil {
		return core.TrajectoryJudgment{}, err
	}
	var parsed struct {
		OnTrack bool   `json:"on_track"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(out)), &parsed); err != nil {
		return core.TrajectoryJudgment{}, fmt.Errorf("parsing trajectory judgment: %w", err)
	}
	return core.TrajectoryJudgment{OnTrack: parsed.OnTrack, Reason: parsed.Reason}, nil
}

const clarificationSystem = `You arbitrate between conflicting approaches recorded on an
engineering ticket. Produce a single authoritative markdown resolution: restate the
conflict in one paragraph, weigh each proposed solution against the recent work listed,
then commit to exactly one decision with concrete next steps. Be decisive.`

// ResolveTicketClarification produces a markdown arbitration for a conflict.
func (p *Provider) ResolveTicketClarification(ctx context.Context, conflict, background string, solutions []string, recentTickets []core.Ticket, recentTasks []core.Task) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Conflict:\n%s\n", conflict)
	if background != "" {
		fmt.Fprintf(&b, "\nBackground:\n%s\n", background)
	}
	if len(solutions) > 0 {
		b.WriteString("\nProposed solutions:\n")
		for i, sol := range solutions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, sol)
		}
	}
	if len(recentTickets) > 0 {
		b.WriteString("\nRecent tickets:\n")
		for _, t := range recentTickets {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", t.Status, t.Title, firstLine(t.Description))
		}
	}
	if len(recentTasks) > 0 {
		b.WriteString("\nRecent tasks:\n")
		for _, t := range recentTasks {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Status, firstLine(t.Description()))
		}
	}
	return p.chat(ctx, clarificationSystem, b.String())
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}

// GenerateAgentPrompt composes the initial prompt for an agent. The phase
// agent prompt is deterministic; a debug copy lands in the OS temp directory
// keyed by agent id.
func (p *Provider) GenerateAgentPrompt(ctx context.Context, req core.PromptRequest) (string, error) {
	prompt := ComposeInitialPrompt(req)
	if err := dumpPrompt(req.AgentID, prompt); err != nil {
		p.log.WithAgent(req.AgentID).Warn("prompt debug dump failed", "error", err)
	}
	return prompt, nil
}

// ProjectContext returns ambient project knowledge for enrichment: the
// opening of the project's README when one exists.
func (p *Provider) ProjectContext(ctx context.Context, workingDirectory string) (string, error) {
	for _, name := range []string{"README.md", "README"} {
		data, err := os.ReadFile(filepath.Join(workingDirectory, name))
		if err != nil {
			continue
		}
		const maxContext = 4000
		if len(data) > maxContext {
			data = data[:maxContext]
		}
		return string(data), nil
	}
	return "", nil
}
