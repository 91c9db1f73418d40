package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/config"
)

const analysisPrompt = "Please analyze this result, and give the analysis process of each model, whether it is autistic or not. Then give me the final prediction of Autistic or Non-Autistic."

// AggregationPolicy resolves the consensus of a prediction and describes its
// rule to the chat model
type AggregationPolicy interface {
	Resolve(result model.PredictionResult) model.Label
	Rule(models int) string
}

// QuorumPolicy resolves Non-Autistic as soon as NonAutisticQuorum models
// vote Non-Autistic, even when they are not a majority
type QuorumPolicy struct {
	NonAutisticQuorum int
}

func (p QuorumPolicy) Resolve(result model.PredictionResult) model.Label {
	if countVotes(result, model.NonAutistic) >= p.quorum() {
		return model.NonAutistic
	}
	return model.Autistic
}

func (p QuorumPolicy) Rule(models int) string {
	return fmt.Sprintf("If at least %d of the %d models say Non-Autistic, the final prediction is Non-Autistic.", p.quorum(), models)
}

func (p QuorumPolicy) quorum() int {
	if p.NonAutisticQuorum < 1 {
		return 1
	}
	return p.NonAutisticQuorum
}

// MajorityPolicy needs a strict majority of Autistic votes. Ties resolve
// Non-Autistic.
type MajorityPolicy struct{}

func (MajorityPolicy) Resolve(result model.PredictionResult) model.Label {
	if countVotes(result, model.Autistic)*2 > result.Len() {
		return model.Autistic
	}
	return model.NonAutistic
}

func (MajorityPolicy) Rule(_ int) string {
	return "The final prediction is Autistic only if a strict majority of the models say Autistic; a tie is Non-Autistic."
}

// NewAggregationPolicy returns the configured policy
func NewAggregationPolicy(cfgSvc config.IService) (AggregationPolicy, error) {
	switch cfgSvc.GetAggregationPolicy() {
	case config.AggregationQuorum, "":
		return QuorumPolicy{NonAutisticQuorum: cfgSvc.GetAggregationQuorum()}, nil
	case config.AggregationMajority:
		return MajorityPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation policy %q", cfgSvc.GetAggregationPolicy())
	}
}

func countVotes(result model.PredictionResult, label model.Label) int {
	n := 0
	for _, v := range result.List() {
		if v.Class == label {
			n++
		}
	}
	return n
}

// FormatVerdicts renders one line per verdict in invocation order
func FormatVerdicts(result model.PredictionResult) string {
	lines := make([]string, 0, result.Len())
	for _, v := range result.List() {
		lines = append(lines, fmt.Sprintf("Model: %s, Class: %s, Confidence: %.2f", v.Model, v.Class, v.Confidence))
	}
	return strings.Join(lines, "\n")
}

type Aggregator struct {
	ChatSvc chat.IService
	Policy  AggregationPolicy
}

func NewAggregator(chatSvc chat.IService, policy AggregationPolicy) *Aggregator {
	return &Aggregator{
		ChatSvc: chatSvc,
		Policy:  policy,
	}
}

// Prompt builds the instruction sent to the chat model
func (a *Aggregator) Prompt(result model.PredictionResult) string {
	return analysisPrompt + " " + a.Policy.Rule(result.Len()) + "\n" + FormatVerdicts(result)
}

// Summarize asks the chat model for a narrative of the verdicts. The
// consensus is resolved locally with the same rule the prompt states.
func (a *Aggregator) Summarize(ctx context.Context, result model.PredictionResult) (model.Summary, error) {
	const op = "summarize"

	if result.Len() == 0 {
		return model.Summary{}, model.WrapError(model.ErrAggregation, op, model.ErrNoPredictions)
	}

	narrative, err := a.ChatSvc.Complete(ctx, []chat.Message{chat.UserText(a.Prompt(result))})
	if err != nil {
		return model.Summary{}, model.WrapError(model.ErrAggregation, op, err)
	}
	if strings.TrimSpace(narrative) == "" {
		return model.Summary{}, model.WrapError(model.ErrAggregation, op, fmt.Errorf("chat returned no content"))
	}

	return model.Summary{
		Consensus: a.Policy.Resolve(result),
		Narrative: narrative,
	}, nil
}
