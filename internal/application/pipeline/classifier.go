package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
	"github.com/bryanwahyu/automaton-plancheck/internal/infra/ai/prompt"
)

// Classifier labels each normalized page with its drawing type.
type Classifier struct {
	Store domain.ObjectStore
	Model domain.VisionModel
	Log   *zap.Logger

	once sync.Once
	inst *instruments
}

// Classify runs one model call per page, in page order. A page whose call or reply
// fails is labelled other; only tracker writes can fail the stage.
func (c *Classifier) Classify(ctx context.Context, t *Tracker, pages []domain.NormalizedPage) ([]domain.ClassifiedPage, error) {
	c.once.Do(func() { c.inst = newInstruments() })
	log := logger(c.Log).With(zap.String("run_id", string(t.RunID())))
	total := len(pages)

	if err := t.Enter(ctx, domain.RunClassifying, fmt.Sprintf("Classifying %d pages", total)); err != nil {
		return nil, err
	}

	out := make([]domain.ClassifiedPage, 0, total)
	for i, p := range pages {
		if err := t.SetStage(ctx, fmt.Sprintf("Classifying page %d of %d", i+1, total)); err != nil {
			return nil, err
		}
		cp, err := c.classifyOne(ctx, p, total)
		if err != nil {
			add(ctx, c.inst.pageFailures, "classification")
			log.Warn("page classification failed", zap.Int("page", p.PageNumber), zap.Error(err))
			cp = domain.ClassifiedPage{
				NormalizedPage: p,
				PageType:       domain.PageOther,
				Description:    fmt.Sprintf("Classification failed: %v", err),
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (c *Classifier) classifyOne(ctx context.Context, p domain.NormalizedPage, total int) (domain.ClassifiedPage, error) {
	img, err := c.Store.Fetch(ctx, p.ImageKey)
	if err != nil {
		return domain.ClassifiedPage{}, eris.Wrapf(err, "fetch %s", p.ImageKey)
	}
	reply, err := c.Model.Generate(ctx, prompt.ClassifyPage(p.PageNumber, total), img)
	if err != nil {
		return domain.ClassifiedPage{}, err
	}
	var r prompt.ClassificationReply
	if err := prompt.Decode(reply, &r); err != nil {
		return domain.ClassifiedPage{}, eris.Wrap(err, "malformed classification reply")
	}
	return domain.ClassifiedPage{
		NormalizedPage: p,
		PageType:       domain.ParsePageType(r.PageType.String()),
		Description:    r.Description.String(),
		ScaleDetected:  r.ScaleDetected.String(),
	}, nil
}
