package generate

import "errors"

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrMissingPrompt     = errors.New("missing prompt")
	ErrInProgress        = errors.New("generation already in progress")
	ErrSubmissionFailed  = errors.New("submission failed")
	ErrStatusCheckFailed = errors.New("status check failed")
	ErrGenerationFailed  = errors.New("generation failed")
)

// Message turns err into the short text shown to the user. Remote failures
// all read the same; the wrapped cause is only for logs.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "Please enter your Replicate API key"
	case errors.Is(err, ErrMissingPrompt):
		return "Please enter a description for the image"
	case errors.Is(err, ErrInProgress):
		return "An image is already being generated"
	default:
		return "There was an error generating the image"
	}
}
