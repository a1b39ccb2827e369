package ai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/astrology"
)

// maxToolRounds bounds tool-call round trips; the last round is forced to answer.
const maxToolRounds = 3

// Forecaster fetches predictions for the birth chart in the request.
type Forecaster interface {
	Fetch(ctx context.Context, q astrology.Query) (json.RawMessage, error)
}

type toolArgs struct {
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Query        string `json:"query"`
	SpecificDate string `json:"specific_date"`
}

func predictionTools() []openai.Tool {
	dateProp := func(what string) jsonschema.Definition {
		return jsonschema.Definition{Type: jsonschema.String, Description: what + " in YYYY-MM-DD format (optional)"}
	}

	tools := make([]openai.Tool, 0, len(astrology.Topics))
	for _, spec := range astrology.Topics {
		params := jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: map[string]jsonschema.Definition{},
		}
		switch spec.Args {
		case astrology.DateRange:
			params.Properties["start_date"] = dateProp("Start date")
			params.Properties["end_date"] = dateProp("End date")
		case astrology.Event:
			params.Properties["query"] = jsonschema.Definition{Type: jsonschema.String, Description: "The specific question or event"}
			params.Properties["specific_date"] = dateProp("Date of the event")
			params.Required = []string{"query"}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(spec.Topic),
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// runTool never fails the completion: a broken call is reported back to the model as
// text so it can answer without that prediction.
func (c *OpenAIClient) runTool(ctx context.Context, call openai.ToolCall, p Profile) (string, error) {
	log := c.logger.With(zap.String("tool", call.Function.Name))

	topic := astrology.Topic(call.Function.Name)
	if _, ok := astrology.Lookup(topic); !ok {
		log.Warn("model called unknown tool")
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name), nil
	}

	var args toolArgs
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			log.Warn("bad tool arguments", zap.String("arguments", call.Function.Arguments), zap.Error(err))
			return "Error: arguments are not valid JSON", nil
		}
	}

	out, err := c.forecaster.Fetch(ctx, astrology.Query{
		Topic:        topic,
		Birth:        astrology.Birth{Date: p.BirthDate, Time: p.BirthTime, Place: p.BirthPlace},
		StartDate:    args.StartDate,
		EndDate:      args.EndDate,
		Question:     args.Query,
		SpecificDate: args.SpecificDate,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("prediction fetch failed", zap.Error(err))
		return "Error getting " + call.Function.Name + ": " + err.Error(), nil
	}
	log.Info("tool call", zap.Int("bytes", len(out)))
	return string(out), nil
}
