package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/samber/do"
)

const DefaultBaseURL = "https://api.replicate.com"

// StatusError is returned when Replicate answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replicate: unexpected status %d: %s", e.Code, e.Body)
}

type ReplicateClient struct {
	Client  *http.Client
	BaseURL string
}

func NewReplicateClient(i *do.Injector) (Predictor, error) {
	return &ReplicateClient{
		Client:  do.MustInvoke[*http.Client](i),
		BaseURL: do.MustInvokeNamed[string](i, "replicate_base_url"),
	}, nil
}

func (c *ReplicateClient) CreatePrediction(ctx context.Context, credential string, req CreateRequest) (*Prediction, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("replicate").With("version", req.Version)
	log.Info("creating prediction")

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var prediction Prediction
	if err := c.do(ctx, http.MethodPost, c.endpoint(), credential, bytes.NewReader(body), &prediction); err != nil {
		return nil, err
	}

	log.Info("created prediction", "id", prediction.ID, "status", prediction.Status)
	return &prediction, nil
}

func (c *ReplicateClient) GetPrediction(ctx context.Context, credential string, id string) (*Prediction, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("replicate").With("id", id)

	var prediction Prediction
	if err := c.do(ctx, http.MethodGet, c.endpoint()+"/"+url.PathEscape(id), credential, nil, &prediction); err != nil {
		return nil, err
	}

	log.Debug("fetched prediction", "status", prediction.Status)
	return &prediction, nil
}

func (c *ReplicateClient) endpoint() string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/v1/predictions"
}

func (c *ReplicateClient) do(ctx context.Context, method, endpoint, credential string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode prediction: %w", err)
	}
	return nil
}
