package providers

import (
	"context"
	"net/http"
	"time"
)

const fireworksPath = "/inference/v1/workflows/accounts/fireworks/models/flux-1-schnell-fp8/text_to_image"

type FireworksConfig struct {
	APIKey  string
	BaseURL string
	// Samples is the number of images requested per call.
	Samples int
}

// Fireworks is the synchronous, paid text-to-image backend.
type Fireworks struct {
	cfg    FireworksConfig
	client *http.Client
}

func NewFireworks(cfg FireworksConfig, client *http.Client) *Fireworks {
	if cfg.Samples <= 0 {
		cfg.Samples = 1
	}
	return &Fireworks{cfg: cfg, client: defaultClient(client, 120*time.Second)}
}

func (f *Fireworks) Kind() Kind             { return KindFireworks }
func (f *Fireworks) Paid() bool             { return true }
func (f *Fireworks) PollPolicy() PollPolicy { return PollPolicy{} }

type fireworksRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Height         int    `json:"height"`
	Width          int    `json:"width"`
	Samples        int    `json:"samples"`
}

type fireworksResponse struct {
	Base64 []string `json:"base64"`
}

// Submit returns the generated images as data URLs. A 2xx answer without
// image data is reported as an upstream failure.
func (f *Fireworks) Submit(ctx context.Context, req Request) (*Submission, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	header.Set("Accept", "application/json")
	header.Set("Json-Return-Image-Accept", "image/png")

	var out fireworksResponse
	err := doJSON(ctx, f.client, KindFireworks, http.MethodPost, joinURL(f.cfg.BaseURL, fireworksPath), header, fireworksRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Height:         req.Height,
		Width:          req.Width,
		Samples:        f.cfg.Samples,
	}, &out)
	if err != nil {
		return nil, err
	}

	images := make([]string, 0, len(out.Base64))
	for _, b := range out.Base64 {
		if b != "" {
			images = append(images, "data:image/png;base64,"+b)
		}
	}
	if len(images) == 0 {
		return nil, &UpstreamError{Provider: KindFireworks, StatusCode: http.StatusOK, Body: "no image data returned"}
	}
	return &Submission{Images: images}, nil
}

func (f *Fireworks) Poll(context.Context, string) (*Status, error) {
	return nil, ErrNotPollable
}
