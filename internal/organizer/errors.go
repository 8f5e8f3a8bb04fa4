package organizer

import (
	"context"
	stderrors "errors"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/llm"
)

// normalizeError converts anything raised below the organizer into an
// *errors.OrganizerError. Already-normalized errors pass through.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}

	var llmErr *llm.Error
	if stderrors.As(err, &llmErr) {
		switch llmErr.Kind {
		case llm.KindAPIKeyMissing:
			return errors.NewConfiguration("Gemini API key is not configured; set PROMPTORG_GEMINI_API_KEY or gemini_api_key in config.json")
		case llm.KindCancelled:
			return errors.NewCancelled()
		case llm.KindTimeout:
			return errors.NewTimeout(llmErr.Message, llmErr)
		case llm.KindNetwork:
			return errors.NewNetwork(llmErr.Message, llmErr)
		case llm.KindAPI:
			return errors.NewAPI(llmErr.Message, llmErr)
		}
		return errors.NewAPI(llmErr.Error(), llmErr)
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return errors.NewCancelled()
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeout("request timed out", err)
	}
	return errors.NewInternal(err)
}
