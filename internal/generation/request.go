package generation

import (
	"strings"

	"github.com/google/uuid"

	"github.com/dreamimg/backend/internal/providers"
)

// MaxCount is the largest number of parallel slots per generation.
const MaxCount = 4

// Request is the client-facing generation request.
type Request struct {
	Provider          string   `json:"provider"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	Style             string   `json:"style,omitempty"`
	Color             string   `json:"color,omitempty"`
	Lighting          string   `json:"lighting,omitempty"`
	Composition       string   `json:"composition,omitempty"`
	AspectRatio       string   `json:"aspect_ratio,omitempty"`
	ReferenceImage    string   `json:"reference_image,omitempty"`
	ReferenceStrength *float64 `json:"reference_strength,omitempty"`
	Model             string   `json:"model,omitempty"`
	Count             int      `json:"count,omitempty"`
	TurnstileToken    string   `json:"turnstile_token,omitempty"`
}

// GenerateInput is one synchronous generation call.
type GenerateInput struct {
	Provider providers.Kind
	Request  Request
	// AccountID is nil for anonymous callers.
	AccountID *uuid.UUID
	Count     int
}

// JobHandle identifies a submitted job. Images is set when the provider
// answered synchronously.
type JobHandle struct {
	Provider providers.Kind `json:"provider"`
	JobID    string         `json:"job_id,omitempty"`
	Images   []string       `json:"images,omitempty"`
}

// resolve validates r and builds the provider request.
func resolve(r Request) (providers.Request, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return providers.Request{}, Errorf(CodeValidation, "prompt is required")
	}
	ratio, dim, ok := ResolveAspectRatio(r.AspectRatio)
	if !ok {
		return providers.Request{}, Errorf(CodeValidation, "unsupported aspect_ratio %q", r.AspectRatio)
	}
	out := providers.Request{
		Prompt:         ComposePrompt(r.Prompt, r.Style, r.Color, r.Lighting, r.Composition),
		NegativePrompt: strings.TrimSpace(r.NegativePrompt),
		AspectRatio:    ratio,
		Width:          dim.Width,
		Height:         dim.Height,
		Model:          strings.TrimSpace(r.Model),
	}
	if r.ReferenceImage != "" {
		strength := 0.5
		if r.ReferenceStrength != nil {
			strength = *r.ReferenceStrength
		}
		if strength < 0 || strength > 1 {
			return providers.Request{}, Errorf(CodeValidation, "reference_strength must be between 0 and 1")
		}
		out.ReferenceImage = r.ReferenceImage
		out.ReferenceStrength = strength
	}
	return out, nil
}

func resolveCount(n int) (int, error) {
	switch {
	case n == 0:
		return 1, nil
	case n < 1 || n > MaxCount:
		return 0, Errorf(CodeValidation, "count must be between 1 and %d", MaxCount)
	}
	return n, nil
}
