package generation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the request invariants without touching the network or the
// filesystem. It returns a normalized copy: prompts are trimmed, and
// text-to-video requests have their reference images dropped.
func (r Request) Validate() (Request, error) {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.NegativePrompt = strings.TrimSpace(r.NegativePrompt)

	if err := validate.Struct(r); err != nil {
		return Request{}, NewError(KindValidation, describeValidation(err), nil)
	}

	switch r.Mode {
	case ModeTextToVideo:
		r.StartImage = nil
		r.EndImage = nil
	case ModeImageToVideo:
		if r.StartImage.IsZero() {
			return Request{}, NewError(KindValidation, "image-to-video requires a start image", nil)
		}
		if r.EndImage.IsZero() {
			r.EndImage = nil
		}
		for _, img := range []*ImageRef{r.StartImage, r.EndImage} {
			if img == nil {
				continue
			}
			if err := validate.Struct(img); err != nil {
				return Request{}, NewError(KindValidation, describeValidation(err), nil)
			}
		}
	}

	return r, nil
}

// describeValidation turns the first validator failure into a short message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	field := fieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

func fieldName(f string) string {
	switch f {
	case "DurationSeconds":
		return "duration"
	case "NegativePrompt":
		return "negative prompt"
	default:
		return strings.ToLower(f)
	}
}
