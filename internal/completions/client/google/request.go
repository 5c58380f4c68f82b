package google

import (
	"context"

	"google.golang.org/genai"

	"chatforge/internal/completions/client"
	"chatforge/internal/config"
)

type requestTransformer struct {
	cfg config.GoogleConfig
}

func (t requestTransformer) Transform(ctx context.Context, req client.CoreRequest, isRecursiveCall bool, prebuiltMessages []client.Message) (client.TransformResult, error) {
	var msgs []client.Message
	if isRecursiveCall && prebuiltMessages != nil {
		msgs = prebuiltMessages
	} else {
		msgs = truncateToContext(req.Assistant, req.Messages)
	}

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		contents = append(contents, toGenaiContent(m))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.Assistant.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Assistant.SystemPrompt, genai.RoleUser)
	}
	if req.Model.SupportsThinking && req.Model.ThinkingBudget > 0 {
		budget := int32(req.Model.ThinkingBudget)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget, IncludeThoughts: true}
	}
	if req.Model.Temperature != nil {
		temp := float32(*req.Model.Temperature)
		cfg.Temperature = &temp
	}

	tools := req.Assistant.Tools
	if req.Model.SupportsWebSearch && req.Assistant.WebSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if len(tools) > 0 {
		cfg.Tools = append(cfg.Tools, toGenaiFunctionTool(tools))
	}

	return client.TransformResult{
		Payload:           sdkPayload{model: req.Model.ID, contents: contents, config: cfg},
		Messages:          msgs,
		ProcessedMessages: msgs,
	}, nil
}

func toGenaiContent(m client.Message) *genai.Content {
	role := genai.RoleUser
	if m.Role == client.RoleAssistant {
		role = genai.RoleModel
	}
	return genai.NewContentFromText(m.Content, role)
}

func toGenaiFunctionTool(tools []client.ToolSchema) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenaiSchema(t.Parameters),
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func toGenaiSchema(params map[string]any) *genai.Schema {
	if params == nil {
		return nil
	}
	return &genai.Schema{Type: genai.TypeObject}
}

func truncateToContext(a client.Assistant, msgs []client.Message) []client.Message {
	if a.ContextLimit <= 0 || len(msgs) <= a.ContextLimit {
		return msgs
	}
	return msgs[len(msgs)-a.ContextLimit:]
}
