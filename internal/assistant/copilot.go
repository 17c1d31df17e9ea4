package assistant

import (
	"context"
	"fmt"
	"time"

	"trialsage/api/internal/provider"
)

// CopilotProvider generates draft text through the Microsoft Copilot
// document assistance endpoint.
type CopilotProvider struct {
	client *provider.Client
}

func NewCopilotProvider(endpoint, apiKey string, timeout time.Duration) *CopilotProvider {
	return &CopilotProvider{
		client: provider.New(endpoint,
			provider.WithHeader("Ocp-Apim-Subscription-Key", apiKey),
			provider.WithTimeout(timeout),
		),
	}
}

func (p *CopilotProvider) Name() string { return "copilot" }

type copilotRequest struct {
	Task         string `json:"task"`
	DocumentType string `json:"documentType"`
	Prompt       string `json:"prompt"`
}

type copilotResponse struct {
	Result struct {
		Content string `json:"content"`
	} `json:"result"`
}

func (p *CopilotProvider) GenerateDraft(ctx context.Context, req DraftRequest) (ProviderDraft, error) {
	body := copilotRequest{
		Task:         "draft",
		DocumentType: req.DocumentType,
		Prompt:       req.Prompt,
	}

	var resp copilotResponse
	if err := p.client.Post(ctx, "/v1/assist", body, &resp); err != nil {
		return ProviderDraft{}, fmt.Errorf("copilot: %w", err)
	}
	if resp.Result.Content == "" {
		return ProviderDraft{}, fmt.Errorf("copilot: empty result")
	}

	return ProviderDraft{
		Provider: p.Name(),
		Text:     resp.Result.Content,
	}, nil
}
