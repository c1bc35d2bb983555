package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const (
	hordeSampler       = "k_dpmpp_2s_a"
	hordeCFGScale      = 5
	hordeSteps         = 50
	hordeModel         = "flux-1"
	hordeDefaultAgent  = "DreamImg-AI/1.0;contact@dreamimg.ai"
	hordeSourceImg2Img = "img2img"
	defaultRefStrength = 0.5
)

type HordeConfig struct {
	APIKey       string
	BaseURL      string
	ClientAgent  string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Horde is the asynchronous AI Horde backend.
type Horde struct {
	cfg    HordeConfig
	client *http.Client
}

func NewHorde(cfg HordeConfig, client *http.Client) *Horde {
	if cfg.ClientAgent == "" {
		cfg.ClientAgent = hordeDefaultAgent
	}
	return &Horde{cfg: cfg, client: defaultClient(client, defaultHTTPTimeout)}
}

func (h *Horde) Kind() Kind { return KindHorde }
func (h *Horde) Paid() bool { return false }

func (h *Horde) PollPolicy() PollPolicy {
	return PollPolicy{Interval: h.cfg.PollInterval, Timeout: h.cfg.Timeout}
}

type hordeParams struct {
	SamplerName       string   `json:"sampler_name"`
	CFGScale          float64  `json:"cfg_scale"`
	Steps             int      `json:"steps"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	DenoisingStrength *float64 `json:"denoising_strength,omitempty"`
}

type hordeGenerateRequest struct {
	Prompt           string      `json:"prompt"`
	Params           hordeParams `json:"params"`
	Models           []string    `json:"models"`
	NSFW             bool        `json:"nsfw"`
	CensorNSFW       bool        `json:"censor_nsfw"`
	SourceImage      string      `json:"source_image,omitempty"`
	SourceProcessing string      `json:"source_processing,omitempty"`
	Payload          struct {
		NegativePrompt string `json:"negative_prompt"`
	} `json:"payload"`
}

type hordeCheck struct {
	Done       bool  `json:"done"`
	Faulted    bool  `json:"faulted"`
	IsPossible *bool `json:"is_possible"`
	Processing int   `json:"processing"`
	Finished   int   `json:"finished"`
}

type hordeStatus struct {
	Faulted     bool `json:"faulted"`
	Generations []struct {
		Img      string `json:"img"`
		Censored bool   `json:"censored"`
	} `json:"generations"`
}

func (h *Horde) header() http.Header {
	hd := http.Header{}
	hd.Set("apikey", h.cfg.APIKey)
	hd.Set("Client-Agent", h.cfg.ClientAgent)
	return hd
}

func (h *Horde) Submit(ctx context.Context, req Request) (*Submission, error) {
	body := hordeGenerateRequest{
		Prompt: req.Prompt,
		Params: hordeParams{
			SamplerName: hordeSampler,
			CFGScale:    hordeCFGScale,
			Steps:       hordeSteps,
			Width:       req.Width,
			Height:      req.Height,
		},
		Models:     []string{hordeModel},
		NSFW:       false,
		CensorNSFW: true,
	}
	body.Payload.NegativePrompt = req.NegativePrompt
	if req.ReferenceImage != "" {
		strength := req.ReferenceStrength
		if strength <= 0 || strength > 1 {
			strength = defaultRefStrength
		}
		denoise := 1 - strength
		body.Params.DenoisingStrength = &denoise
		body.SourceImage = req.ReferenceImage
		body.SourceProcessing = hordeSourceImg2Img
	}

	var out struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := doJSON(ctx, h.client, KindHorde, http.MethodPost, joinURL(h.cfg.BaseURL, "/api/v2/generate/async"), h.header(), body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		msg := "missing generation id in response"
		if out.Message != "" {
			msg += ": " + out.Message
		}
		return nil, &UpstreamError{Provider: KindHorde, StatusCode: http.StatusAccepted, Body: msg}
	}
	return &Submission{JobID: out.ID}, nil
}

// Poll checks the job and, once done, fetches the finished generation.
func (h *Horde) Poll(ctx context.Context, jobID string) (*Status, error) {
	id := url.PathEscape(jobID)
	var check hordeCheck
	if err := doJSON(ctx, h.client, KindHorde, http.MethodGet, joinURL(h.cfg.BaseURL, "/api/v2/generate/check/"+id), h.header(), nil, &check); err != nil {
		return nil, err
	}
	switch {
	case check.Faulted:
		return &Status{State: JobFailed, Reason: "generation faulted"}, nil
	case check.IsPossible != nil && !*check.IsPossible:
		return &Status{State: JobFailed, Reason: "no worker can serve this request"}, nil
	case !check.Done:
		if check.Processing > 0 {
			return &Status{State: JobRunning}, nil
		}
		return &Status{State: JobQueued}, nil
	}

	var st hordeStatus
	if err := doJSON(ctx, h.client, KindHorde, http.MethodGet, joinURL(h.cfg.BaseURL, "/api/v2/generate/status/"+id), h.header(), nil, &st); err != nil {
		return nil, err
	}
	if st.Faulted {
		return &Status{State: JobFailed, Reason: "generation faulted"}, nil
	}
	if len(st.Generations) == 0 {
		return &Status{State: JobFailed, Reason: "no image was generated"}, nil
	}
	g := st.Generations[0]
	if g.Censored {
		return &Status{State: JobFailed, Censored: true, Reason: "generated image was censored"}, nil
	}
	if g.Img == "" {
		return &Status{State: JobFailed, Reason: "no image was generated"}, nil
	}
	return &Status{State: JobSucceeded, Images: []string{g.Img}}, nil
}
