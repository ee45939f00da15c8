package coop

import "context"

// RoleAssistant marks a generated message that may be relayed to clients.
const RoleAssistant = "assistant"

// ChatMessage is what the host application's generation pipeline produced.
type ChatMessage struct {
	Role string
	Text string
}

// Generator is the host application's AI generation entry point. It is called
// once per round with the combined prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (ChatMessage, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (ChatMessage, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (ChatMessage, error) {
	return f(ctx, prompt)
}

// Renderer appends an assistant-authored message to the local chat.
type Renderer interface {
	RenderAssistantMessage(text string)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(text string)

// RenderAssistantMessage calls f.
func (f RendererFunc) RenderAssistantMessage(text string) { f(text) }

// Observer is notified of state the UI layer displays. Calls happen on the
// session loop and must not block.
type Observer interface {
	StatusChanged(Status)
	RoleChanged(isHost bool)
	RosterChanged([]Participant)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) StatusChanged(Status)        {}
func (NopObserver) RoleChanged(bool)            {}
func (NopObserver) RosterChanged([]Participant) {}

type nopRenderer struct{}

func (nopRenderer) RenderAssistantMessage(string) {}
