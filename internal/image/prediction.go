package image

import (
	"context"
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

type Input struct {
	Prompt string `json:"prompt"`
}

type CreateRequest struct {
	Version string `json:"version"`
	Input   Input  `json:"input"`
}

// Output holds prediction output references. Models return either a list of
// URLs or a single URL.
type Output []string

func (o *Output) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*o = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("unsupported prediction output: %s", data)
	}
	*o = Output{single}
	return nil
}

type Prediction struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
	Status  Status `json:"status"`
	Output  Output `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Image returns the first output reference.
func (p *Prediction) Image() (string, bool) {
	if p == nil || len(p.Output) == 0 || p.Output[0] == "" {
		return "", false
	}
	return p.Output[0], true
}

type Predictor interface {
	CreatePrediction(ctx context.Context, credential string, req CreateRequest) (*Prediction, error)
	GetPrediction(ctx context.Context, credential string, id string) (*Prediction, error)
}
