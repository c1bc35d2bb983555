package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

type VolcanoConfig struct {
	APIKey    string
	Model     string
	Watermark bool
}

// volcanoResult is the part of an Ark images response the provider reads.
type volcanoResult struct {
	URLs      []string
	ErrorCode string
	ErrorMsg  string
}

type volcanoGenerateFunc func(ctx context.Context, req model.GenerateImagesRequest) (*volcanoResult, error)

// Volcano is the synchronous Volcano Engine Ark text-to-image backend.
type Volcano struct {
	cfg      VolcanoConfig
	generate volcanoGenerateFunc
}

func NewVolcano(cfg VolcanoConfig) *Volcano {
	client := arkruntime.NewClientWithApiKey(cfg.APIKey)
	return newVolcano(cfg, func(ctx context.Context, req model.GenerateImagesRequest) (*volcanoResult, error) {
		resp, err := client.GenerateImages(ctx, req)
		if err != nil {
			return nil, err
		}
		res := &volcanoResult{}
		if resp.Error != nil {
			res.ErrorCode = fmt.Sprint(resp.Error.Code)
			res.ErrorMsg = fmt.Sprint(resp.Error.Message)
			return res, nil
		}
		for _, image := range resp.Data {
			if image.Url != nil && *image.Url != "" {
				res.URLs = append(res.URLs, *image.Url)
			}
		}
		return res, nil
	})
}

func newVolcano(cfg VolcanoConfig, gen volcanoGenerateFunc) *Volcano {
	return &Volcano{cfg: cfg, generate: gen}
}

func (v *Volcano) Kind() Kind             { return KindVolcano }
func (v *Volcano) Paid() bool             { return false }
func (v *Volcano) PollPolicy() PollPolicy { return PollPolicy{} }

func (v *Volcano) Submit(ctx context.Context, req Request) (*Submission, error) {
	m := v.cfg.Model
	if req.Model != "" {
		m = req.Model
	}
	res, err := v.generate(ctx, model.GenerateImagesRequest{
		Model:          m,
		Prompt:         req.Prompt,
		Size:           volcengine.String(fmt.Sprintf("%dx%d", req.Width, req.Height)),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
		Watermark:      volcengine.Bool(v.cfg.Watermark),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Provider: KindVolcano, Err: err}
	}
	if res.ErrorCode != "" || res.ErrorMsg != "" {
		return nil, &UpstreamError{Provider: KindVolcano, StatusCode: http.StatusBadGateway, Body: res.ErrorCode + ": " + res.ErrorMsg}
	}
	if len(res.URLs) == 0 {
		return nil, &UpstreamError{Provider: KindVolcano, StatusCode: http.StatusOK, Body: "no image url returned"}
	}
	return &Submission{Images: res.URLs}, nil
}

func (v *Volcano) Poll(context.Context, string) (*Status, error) {
	return nil, ErrNotPollable
}
