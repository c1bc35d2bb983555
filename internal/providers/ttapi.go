package providers

import (
	"context"
	"net/http"
	"time"
)

const ttapiDefaultMode = "flux1-schnell"

type TTAPIConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxAttempts  int
}

// TTAPI is the asynchronous ttapi.io flux backend.
type TTAPI struct {
	cfg    TTAPIConfig
	client *http.Client
}

func NewTTAPI(cfg TTAPIConfig, client *http.Client) *TTAPI {
	return &TTAPI{cfg: cfg, client: defaultClient(client, defaultHTTPTimeout)}
}

func (t *TTAPI) Kind() Kind { return KindTTAPI }
func (t *TTAPI) Paid() bool { return false }

func (t *TTAPI) PollPolicy() PollPolicy {
	return PollPolicy{Interval: t.cfg.PollInterval, MaxAttempts: t.cfg.MaxAttempts}
}

type ttapiGenerateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Mode           string `json:"mode"`
	AspectRatio    string `json:"aspect_ratio"`
}

type ttapiEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		JobID    string `json:"jobId"`
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

func (t *TTAPI) header() http.Header {
	h := http.Header{}
	h.Set("TT-API-KEY", t.cfg.APIKey)
	return h
}

func (t *TTAPI) Submit(ctx context.Context, req Request) (*Submission, error) {
	mode := req.Model
	if mode == "" {
		mode = ttapiDefaultMode
	}
	var out ttapiEnvelope
	err := doJSON(ctx, t.client, KindTTAPI, http.MethodPost, joinURL(t.cfg.BaseURL, "/flux/generate"), t.header(), ttapiGenerateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Mode:           mode,
		AspectRatio:    req.AspectRatio,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Data.JobID == "" {
		body := "missing jobId in response"
		if out.Message != "" {
			body += ": " + out.Message
		}
		return nil, &UpstreamError{Provider: KindTTAPI, StatusCode: http.StatusOK, Body: body}
	}
	return &Submission{JobID: out.Data.JobID}, nil
}

func (t *TTAPI) Poll(ctx context.Context, jobID string) (*Status, error) {
	var out ttapiEnvelope
	err := doJSON(ctx, t.client, KindTTAPI, http.MethodPost, joinURL(t.cfg.BaseURL, "/flux/fetch"), t.header(), map[string]string{"jobId": jobID}, &out)
	if err != nil {
		return nil, err
	}
	switch out.Status {
	case "ON_QUEUE":
		return &Status{State: JobQueued}, nil
	case "SUCCESS":
		if out.Data.ImageURL == "" {
			return &Status{State: JobRunning}, nil
		}
		return &Status{State: JobSucceeded, Images: []string{out.Data.ImageURL}}, nil
	case "FAILED":
		reason := out.Message
		if reason == "" {
			reason = "generation failed"
		}
		return &Status{State: JobFailed, Reason: reason}, nil
	default:
		return &Status{State: JobRunning}, nil
	}
}
