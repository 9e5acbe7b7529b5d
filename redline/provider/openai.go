package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/fileutils"
)

type editsResponse struct {
	Edits []proposedEdit `json:"edits" jsonschema:"required"`
}

type proposedEdit struct {
	ParagraphID     int    `json:"paragraph_id" jsonschema:"required" jsonschema_description:"Number shown in brackets before the paragraph"`
	OriginalText    string `json:"original_text" jsonschema:"required" jsonschema_description:"Exact current text of the paragraph"`
	ReplacementText string `json:"replacement_text" jsonschema:"required" jsonschema_description:"Full new text of the paragraph"`
	Reasoning       string `json:"reasoning" jsonschema:"required"`
}

var editsSchema = sync.OnceValues(func() (*ResponseSchema, error) {
	return NewResponseSchema[editsResponse]("ParagraphEdits")
})

const defaultMaxOutputTokens = 4000

// responder sends one request and returns the model's output text.
type responder func(ctx context.Context, params responses.ResponseNewParams) (string, error)

// OpenAIOracle proposes edits through the OpenAI Responses API with a strict
// JSON schema.
type OpenAIOracle struct {
	model           string
	maxOutputTokens int64
	logger          *slog.Logger
	respond         responder
	schema          *ResponseSchema
}

// NewOpenAIOracle returns an oracle backed by client.
func NewOpenAIOracle(client *openai.Client, model string, maxOutputTokens int64, logger *slog.Logger) (*OpenAIOracle, error) {
	if client == nil {
		return nil, errors.New("NewOpenAIOracle: client is nil")
	}
	return newOpenAIOracle(model, maxOutputTokens, logger, func(ctx context.Context, params responses.ResponseNewParams) (string, error) {
		resp, err := CallWithRetry(ctx, client, params)
		if err != nil {
			return "", err
		}
		return resp.OutputText(), nil
	})
}

func newOpenAIOracle(model string, maxOutputTokens int64, logger *slog.Logger, respond responder) (*OpenAIOracle, error) {
	if model == "" {
		return nil, errors.New("NewOpenAIOracle: model is empty")
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := editsSchema()
	if err != nil {
		return nil, err
	}
	return &OpenAIOracle{model: model, maxOutputTokens: maxOutputTokens, logger: logger, respond: respond, schema: schema}, nil
}

func (o *OpenAIOracle) params(snap redline.Snapshot, instruction string) responses.ResponseNewParams {
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        o.schema.Name,
			Schema:      o.schema.Doc,
			Strict:      openai.Bool(true),
			Description: openai.String("Paragraph edits JSON"),
			Type:        "json_schema",
		},
	}
	return responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxOutputTokens),
		Instructions:    openai.String(editorInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(UserPrompt(snap, instruction), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}
}

// Propose implements redline.EditOracle.
func (o *OpenAIOracle) Propose(ctx context.Context, snap redline.Snapshot, instruction string) ([]redline.ParagraphEdit, error) {
	text, err := o.respond(ctx, o.params(snap, instruction))
	if err != nil {
		return nil, err
	}
	edits, err := ParseEdits(text, snap.Version)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("oracle proposed edits", "model", o.model, "edits", len(edits), "document_ref", snap.DocumentRef)
	return edits, nil
}

// ParseEdits decodes a model response into edits stamped with version. The
// payload must satisfy the edits schema.
func ParseEdits(outputText string, version int) ([]redline.ParagraphEdit, error) {
	b, err := fileutils.ExtractJSONObject(outputText)
	if err != nil {
		return nil, fmt.Errorf("decode edits: %w", err)
	}

	var instance any
	if err := json.Unmarshal(b, &instance); err != nil {
		return nil, fmt.Errorf("decode edits: %w", err)
	}
	schema, err := editsSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("edits do not match schema: %w", err)
	}

	var resp editsResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("decode edits: %w", err)
	}
	out := make([]redline.ParagraphEdit, 0, len(resp.Edits))
	for _, e := range resp.Edits {
		out = append(out, redline.ParagraphEdit{
			ParagraphID:     e.ParagraphID,
			OriginalText:    e.OriginalText,
			ReplacementText: e.ReplacementText,
			Reasoning:       e.Reasoning,
			SnapshotVersion: version,
		})
	}
	return out, nil
}
