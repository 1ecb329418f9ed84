package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/analysis"
	"github.com/mesura-ai/mesura/internal/i18n"
	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

// AnalysisInvoker calls the external statistics service.
type AnalysisInvoker interface {
	Invoke(ctx context.Context, analysisType string, fileID, messageID uuid.UUID) (*analysis.Result, error)
}

// assistantRows is the store surface the coordinator needs: lazy creation
// of the assistant row and metadata merges against it.
type assistantRows interface {
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (*store.Message, error)
	UpdateMessageMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (*store.Message, error)
}

// AnalyzeInput are the model-supplied tool arguments.
type AnalyzeInput struct {
	AnalysisType string `json:"analysisType" jsonschema_description:"Analysis to run: gage_rr, capability, normality, descriptive or control_chart"`
	FileID       string `json:"fileId" jsonschema_description:"UUID of the uploaded data file to analyze"`
}

// AnalyzeOutput is what the model sees as the tool result. Service
// failures are reported here as values so the model can acknowledge them
// in its continuation instead of the stream aborting.
type AnalyzeOutput struct {
	Status       string          `json:"status"`
	Results      json.RawMessage `json:"results,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Coordinator handles the analyze tool call: it emits tool lifecycle
// events, creates the assistant row on first use, invokes the analysis
// service through the retry engine and folds the outcome back into the
// stream and the message metadata.
type Coordinator struct {
	invoker AnalysisInvoker
	rows    assistantRows
	retry   RetryOptions
	logger  log.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(invoker AnalysisInvoker, rows assistantRows, retry RetryOptions, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coordinator{invoker: invoker, rows: rows, retry: retry, logger: logger}
}

// DefineTool registers the analyze tool on g and returns its reference for
// the generation call.
func (c *Coordinator) DefineTool(g *genkit.Genkit) ai.ToolRef {
	return genkit.DefineTool(
		g,
		"analyze",
		"Run a statistical analysis over an uploaded data file. "+
			"Supported types: gage_rr (Gage R&R study), capability (process capability), "+
			"normality (normality test), descriptive (descriptive statistics), "+
			"control_chart (control chart data). "+
			"Returns the numerical results plus presentation instructions. "+
			"Call at most once per response, only when the user asks for an analysis "+
			"and a suitable file is available.",
		func(tctx *ai.ToolContext, input AnalyzeInput) (AnalyzeOutput, error) {
			return c.handle(tctx.Context, input)
		},
	)
}

// handle runs the tool call sequence. Only genuinely unexpected faults
// (no active turn, persistence failure) return a Go error; analysis
// service failures are folded into AnalyzeOutput.
func (c *Coordinator) handle(ctx context.Context, input AnalyzeInput) (AnalyzeOutput, error) {
	turn := TurnFromContext(ctx)
	if turn == nil {
		return AnalyzeOutput{}, errors.New("analyze called outside an active turn")
	}

	if err := turn.sink.Send(ToolCallEvent("analyze", ToolStatusProcessing)); err != nil {
		return AnalyzeOutput{}, fmt.Errorf("client gone: %w", err)
	}

	fileID, err := uuid.Parse(input.FileID)
	if err != nil {
		// Model hallucinated a file id. Report it as a tool failure so
		// the continuation can correct course.
		return c.fail(turn, input.AnalysisType, fmt.Sprintf("invalid file id %q", input.FileID))
	}

	// The metadata merge below needs a target row. Create it now with the
	// text accumulated so far; this happens at most once per turn.
	if turn.assistantID == nil {
		msg, err := c.rows.CreateMessage(ctx, store.CreateMessageParams{
			ConversationID: turn.conversationID,
			Role:           store.RoleAssistant,
			Content:        turn.Text(),
		})
		if err != nil {
			return AnalyzeOutput{}, fmt.Errorf("create assistant message: %w", err)
		}
		turn.assistantID = &msg.ID
	}

	result := RetryDoSafe(ctx, c.retry, func(ctx context.Context) (*analysis.Result, error) {
		return c.invoker.Invoke(ctx, input.AnalysisType, fileID, *turn.assistantID)
	})
	if result.Err != nil {
		c.logger.Warn("analysis invocation failed",
			"analysis_type", input.AnalysisType,
			"file_id", fileID,
			"attempts", result.Attempts,
			"error", result.Err)
		return c.fail(turn, input.AnalysisType, serviceErrorMessage(result.Err))
	}

	res := result.Value

	payload, err := json.Marshal(res)
	if err != nil {
		return AnalyzeOutput{}, fmt.Errorf("marshal tool result: %w", err)
	}
	if err := turn.sink.Send(ToolResultEvent(payload)); err != nil {
		return AnalyzeOutput{}, fmt.Errorf("client gone: %w", err)
	}
	if err := turn.sink.Send(ToolCallEvent("analyze", ToolStatusComplete)); err != nil {
		return AnalyzeOutput{}, fmt.Errorf("client gone: %w", err)
	}

	patch := map[string]any{
		"results":      res.Results,
		"chartData":    res.ChartData,
		"analysisType": res.AnalysisType,
		"fileId":       fileID.String(),
	}
	if _, err := c.rows.UpdateMessageMetadata(ctx, *turn.assistantID, patch); err != nil {
		return AnalyzeOutput{}, fmt.Errorf("merge tool metadata: %w", err)
	}

	turn.AppendMarker(toolMarker(input.AnalysisType))
	turn.toolCompleted = true

	return AnalyzeOutput{
		Status:       "ok",
		Results:      res.Results,
		Instructions: res.Instructions,
	}, nil
}

// fail emits the tool failure event pair and returns the failure as tool
// output. The generation stream keeps going.
func (c *Coordinator) fail(turn *Turn, analysisType, message string) (AnalyzeOutput, error) {
	if err := turn.sink.Send(ToolErrorEvent(message)); err != nil {
		return AnalyzeOutput{}, fmt.Errorf("client gone: %w", err)
	}
	if err := turn.sink.Send(ToolCallEvent("analyze", ToolStatusError)); err != nil {
		return AnalyzeOutput{}, fmt.Errorf("client gone: %w", err)
	}
	return AnalyzeOutput{Status: "error", Error: message}, nil
}

// serviceErrorMessage renders an analysis failure for the client and the
// model. Validation failures keep their row-level detail.
func serviceErrorMessage(err error) string {
	var svcErr *analysis.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.IsValidation() && len(svcErr.ValidationErrors) > 0 {
			detail, merr := json.Marshal(svcErr.ValidationErrors)
			if merr == nil {
				return fmt.Sprintf("%s: %s", svcErr.Message, detail)
			}
		}
		return svcErr.Message
	}
	return i18n.T("error.internal")
}
