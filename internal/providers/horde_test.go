package providers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHorde_Submit(t *testing.T) {
	var got hordeGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/generate/async" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "hk" || r.Header.Get("Client-Agent") == "" {
			t.Errorf("missing horde headers")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"gen-1","kudos":10}`))
	}))
	defer srv.Close()

	h := NewHorde(HordeConfig{APIKey: "hk", BaseURL: srv.URL}, srv.Client())
	sub, err := h.Submit(context.Background(), Request{Prompt: "a fox", NegativePrompt: "blur", Width: 768, Height: 1344})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.JobID != "gen-1" {
		t.Errorf("expected gen-1, got %q", sub.JobID)
	}
	if got.Params.SamplerName != hordeSampler || got.Params.Steps != hordeSteps || got.Params.Width != 768 {
		t.Errorf("unexpected params: %+v", got.Params)
	}
	if got.NSFW || !got.CensorNSFW {
		t.Error("expected nsfw=false censor_nsfw=true")
	}
	if got.Payload.NegativePrompt != "blur" {
		t.Errorf("negative prompt: got %q", got.Payload.NegativePrompt)
	}
	if got.SourceImage != "" || got.Params.DenoisingStrength != nil {
		t.Error("expected no img2img fields without reference image")
	}
}

func TestHorde_SubmitReferenceImage(t *testing.T) {
	var got hordeGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"gen-2"}`))
	}))
	defer srv.Close()

	h := NewHorde(HordeConfig{BaseURL: srv.URL}, srv.Client())
	_, err := h.Submit(context.Background(), Request{Prompt: "x", Width: 1024, Height: 1024, ReferenceImage: "iVBOR", ReferenceStrength: 0.8})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.SourceImage != "iVBOR" || got.SourceProcessing != hordeSourceImg2Img {
		t.Errorf("unexpected source fields: %q %q", got.SourceImage, got.SourceProcessing)
	}
	if got.Params.DenoisingStrength == nil || math.Abs(*got.Params.DenoisingStrength-0.2) > 1e-9 {
		t.Errorf("expected denoising 0.2, got %v", got.Params.DenoisingStrength)
	}
}

func hordeServer(t *testing.T, check, status string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/generate/check/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(check))
	})
	mux.HandleFunc("GET /api/v2/generate/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if status == "" {
			t.Error("status should not be fetched")
		}
		w.Write([]byte(status))
	})
	return httptest.NewServer(mux)
}

func TestHorde_Poll(t *testing.T) {
	cases := []struct {
		name     string
		check    string
		status   string
		state    JobState
		censored bool
	}{
		{"queued", `{"done":false,"processing":0,"is_possible":true}`, "", JobQueued, false},
		{"running", `{"done":false,"processing":1}`, "", JobRunning, false},
		{"faulted", `{"done":false,"faulted":true}`, "", JobFailed, false},
		{"impossible", `{"done":false,"is_possible":false}`, "", JobFailed, false},
		{"done", `{"done":true}`, `{"generations":[{"img":"https://r2/x.webp"}]}`, JobSucceeded, false},
		{"censored", `{"done":true}`, `{"generations":[{"img":"https://r2/x.webp","censored":true}]}`, JobFailed, true},
		{"empty", `{"done":true}`, `{"generations":[]}`, JobFailed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := hordeServer(t, tc.check, tc.status)
			defer srv.Close()

			h := NewHorde(HordeConfig{BaseURL: srv.URL}, srv.Client())
			st, err := h.Poll(context.Background(), "gen-1")
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if st.State != tc.state || st.Censored != tc.censored {
				t.Errorf("expected %s censored=%v, got %s censored=%v", tc.state, tc.censored, st.State, st.Censored)
			}
			if tc.state == JobSucceeded && (len(st.Images) != 1 || st.Images[0] != "https://r2/x.webp") {
				t.Errorf("unexpected images: %v", st.Images)
			}
		})
	}
}
