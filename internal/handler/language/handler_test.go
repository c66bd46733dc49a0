package language

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
	"github.com/zhouzirui/smartguard/internal/service/speech"
)

type stubSynth struct{}

func (stubSynth) Synthesize(context.Context, *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	return &speechmodel.TTSResponse{}, nil
}

func setupRouter(input *speech.InputAdapter, output *speech.OutputAdapter) *chi.Mux {
	r := chi.NewRouter()
	New(input, output).RegisterRoutes(r)
	return r
}

func TestListLanguages(t *testing.T) {
	r := setupRouter(nil, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/languages", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []languageView
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(model.Supported) {
		t.Fatalf("expected %d languages, got %d", len(model.Supported), len(got))
	}
	if got[0].Code != model.English || !got[0].Default {
		t.Fatalf("english must be first and default, got %+v", got[0])
	}
	if got[1].Greeting != model.Greeting(model.Spanish) {
		t.Fatalf("unexpected spanish greeting %q", got[1].Greeting)
	}
}

func TestCapabilities(t *testing.T) {
	cases := []struct {
		name   string
		input  *speech.InputAdapter
		output *speech.OutputAdapter
		want   capabilities
	}{
		{
			name: "none",
			want: capabilities{Tooltip: speech.UnavailableTooltip},
		},
		{
			name:   "synthesis only",
			input:  speech.NewInputAdapter(nil, nil),
			output: speech.NewOutputAdapter(stubSynth{}, nil, nil),
			want:   capabilities{Synthesis: true, Tooltip: speech.UnavailableTooltip},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouter(tc.input, tc.output)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/capabilities", nil))

			var got capabilities
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
