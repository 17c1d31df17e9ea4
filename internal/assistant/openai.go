package assistant

import (
	"context"
	"fmt"
	"time"

	"trialsage/api/internal/provider"
)

// OpenAIProvider generates draft text through the OpenAI chat completions
// endpoint.
type OpenAIProvider struct {
	client *provider.Client
	model  string
}

func NewOpenAIProvider(endpoint, apiKey string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		client: provider.New(endpoint,
			provider.WithHeader("Authorization", "Bearer "+apiKey),
			provider.WithTimeout(timeout),
		),
		model: "gpt-4o",
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) GenerateDraft(ctx context.Context, req DraftRequest) (ProviderDraft, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.DocumentType)},
			{Role: "user", Content: req.Prompt},
		},
	}

	var resp chatResponse
	if err := p.client.Post(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return ProviderDraft{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ProviderDraft{}, fmt.Errorf("openai: empty completion")
	}

	return ProviderDraft{
		Provider: p.Name(),
		Text:     resp.Choices[0].Message.Content,
	}, nil
}

func systemPrompt(documentType string) string {
	switch documentType {
	case "clinical_overview":
		return "You draft ICH CTD Module 2.5 clinical overviews. Use formal regulatory language and cite evidence sections."
	case "csr":
		return "You draft clinical study report sections per ICH E3. Keep statements traceable to study data."
	case "protocol":
		return "You draft clinical trial protocol sections. Follow ICH E6 structure and terminology."
	default:
		return "You draft regulatory submission documents. Use precise, formal language."
	}
}
