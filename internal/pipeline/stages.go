package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/textsim"
	"github.com/jackzampolin/qforge/internal/types"
)

func (e *execution) extract(ctx context.Context, in types.Input) (*types.ExtractionResult, error) {
	var cands []candidate[*types.ExtractionResult]
	for _, x := range e.adapters.Extractors {
		if !x.Supports(in) {
			continue
		}
		cands = append(cands, candidate[*types.ExtractionResult]{name: x.Name(), call: func(ctx context.Context) (*types.ExtractionResult, error) {
			res, err := x.Extract(ctx, in)
			if err != nil {
				return nil, err
			}
			if err := res.Validate(); err != nil {
				return nil, adapters.Remote(x.Name(), string(StageExtract), fmt.Errorf("invalid extraction: %w", err))
			}
			if res.Provider == "" {
				res.Provider = x.Name()
			}
			return res, nil
		}})
	}

	result, err := runStage(ctx, e, StageExtract, e.cfg.ExtractTimeout, cands)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return result, failure(types.KindInputInvalid, StageExtract, errors.New("no text found in input"))
	}
	e.logger.Info("text extracted", "provider", result.Provider, "chars", len(result.Text),
		"confidence", result.Level())
	return result, nil
}

func (e *execution) enhance(ctx context.Context, text string) (*types.EnhancedText, error) {
	var cands []candidate[*types.EnhancedText]
	for _, h := range e.adapters.Enhancers {
		if !h.Supports(text) {
			continue
		}
		cands = append(cands, candidate[*types.EnhancedText]{name: h.Name(), call: func(ctx context.Context) (*types.EnhancedText, error) {
			res, err := h.Enhance(ctx, text)
			if err != nil {
				return nil, err
			}
			if res.Enhancer == "" {
				res.Enhancer = h.Name()
			}
			return res, nil
		}})
	}

	result, err := runStage(ctx, e, StageEnhance, e.cfg.EnhanceTimeout, cands)
	if err != nil {
		return nil, err
	}

	// The adapter's own similarity claim is not trusted.
	result.Original = text
	result.Similarity = textsim.Similarity(text, result.Text)
	result.MeaningPreserved = result.Similarity > e.cfg.SimilarityThreshold
	if result.Changes == nil {
		result.Changes = textsim.Changes(text, result.Text)
	}
	if !result.MeaningPreserved {
		e.run.Enhanced = result
		return nil, failure(types.KindMeaningPreservationFailed, StageEnhance,
			fmt.Errorf("%s: similarity %.3f does not exceed %.3f", result.Enhancer, result.Similarity, e.cfg.SimilarityThreshold))
	}
	e.logger.Info("text enhanced", "enhancer", result.Enhancer, "similarity", result.Similarity,
		"changes", len(result.Changes))
	return result, nil
}

// generate returns the usable questions. A short set comes back together
// with a GenerationCardinalityMismatch error.
func (e *execution) generate(ctx context.Context, text string) ([]types.Question, error) {
	req := adapters.GenerateRequest{
		Text:       text,
		Type:       e.run.Params.QuestionType,
		Difficulty: e.run.Params.Difficulty,
		Count:      e.run.Params.NumQuestions,
	}

	var cands []candidate[[]types.Question]
	for _, g := range e.adapters.Generators {
		if !g.Supports(req) {
			continue
		}
		cands = append(cands, candidate[[]types.Question]{name: g.Name(), call: func(ctx context.Context) ([]types.Question, error) {
			return g.Generate(ctx, req)
		}})
	}

	raw, err := runStage(ctx, e, StageGenerate, e.cfg.GenerateTimeout, cands)
	if err != nil {
		return nil, err
	}

	questions := e.accept(req, raw)
	switch {
	case len(questions) == 0:
		return nil, failure(types.KindGenerationCardinalityMismatch, StageGenerate,
			fmt.Errorf("no usable questions out of %d generated", len(raw)))
	case len(questions) < req.Count:
		return questions, failure(types.KindGenerationCardinalityMismatch, StageGenerate,
			fmt.Errorf("generated %d of %d requested questions", len(questions), req.Count))
	}
	return questions, nil
}

// accept drops questions that fail validation or have the wrong type and
// truncates the rest to the requested count.
func (e *execution) accept(req adapters.GenerateRequest, raw []types.Question) []types.Question {
	out := make([]types.Question, 0, min(len(raw), req.Count))
	dropped := 0
	for _, q := range raw {
		if q.Difficulty == "" {
			q.Difficulty = req.Difficulty
		}
		if q.Type != req.Type {
			dropped++
			continue
		}
		if err := q.Validate(); err != nil {
			e.logger.Debug("dropping invalid question", "error", err)
			dropped++
			continue
		}
		out = append(out, q)
	}
	if dropped > 0 {
		e.logger.Warn("generated questions rejected", "dropped", dropped, "kept", len(out))
	}
	if len(out) > req.Count {
		out = out[:req.Count]
	}
	return out
}

func (e *execution) storeQuestions(ctx context.Context, questions []types.Question) error {
	set := &types.QuestionSet{
		RunID:     e.run.ID,
		Questions: questions,
		Requested: e.run.Params.NumQuestions,
		TeacherID: e.run.Params.TeacherID,
		ClassID:   e.run.Params.ClassID,
		Subject:   e.run.Params.Subject,
		CreatedAt: e.cfg.Now(),
	}
	if err := e.store.InsertQuestionSet(context.WithoutCancel(ctx), set); err != nil {
		return fmt.Errorf("store questions: %w", err)
	}
	return nil
}
