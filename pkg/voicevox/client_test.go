package voicevox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeEngine is a minimal VOICEVOX engine for testing the two-step
// synthesis exchange.
type fakeEngine struct {
	t *testing.T

	queryCalls int32
	synthCalls int32

	failQueries int32 // number of audio_query calls to answer with 500
	emptyAudio  bool
	audio       []byte

	lastQuery atomic.Pointer[map[string]any]
}

func (f *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /audio_query", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.queryCalls, 1)
		if n <= atomic.LoadInt32(&f.failQueries) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("text") == "" {
			http.Error(w, "missing text", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"accent_phrases": []any{},
			"speedScale":     1.0,
			"pitchScale":     0.0,
			"outputStereo":   false,
		})
	})
	mux.HandleFunc("POST /synthesis", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.synthCalls, 1)

		var query map[string]any
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			f.t.Errorf("synthesis body is not JSON: %v", err)
		}
		if _, ok := query["speedScale"]; !ok {
			f.t.Error("synthesis query missing speedScale")
		}
		if _, ok := query["accent_phrases"]; !ok {
			f.t.Error("audio query fields were not carried through to synthesis")
		}
		f.lastQuery.Store(&query)

		if f.emptyAudio {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(f.audio)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode("0.22.0")
	})
	mux.HandleFunc("GET /speakers", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]Speaker{
			{Name: "ずんだもん", UUID: "u-1", Styles: []Style{{Name: "ノーマル", ID: 3}}},
		})
	})
	return mux
}

func newFakeEngine(t *testing.T) (*fakeEngine, *httptest.Server) {
	t.Helper()
	f := &fakeEngine{t: t, audio: []byte("RIFFfakewav")}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func TestSynthesizePatchesParams(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEngine(t)
	c, err := New(srv.URL, WithCache(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	clip, err := c.Synthesize(context.Background(), "こんにちは", Params{Speaker: 3, Speed: 1.4, Pitch: 0.05})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip) != "RIFFfakewav" {
		t.Errorf("clip = %q, want fake wav", clip)
	}

	q := f.lastQuery.Load()
	if q == nil {
		t.Fatal("no synthesis query captured")
	}
	if got := (*q)["speedScale"]; got != 1.4 {
		t.Errorf("speedScale = %v, want 1.4", got)
	}
	if got := (*q)["pitchScale"]; got != 0.05 {
		t.Errorf("pitchScale = %v, want 0.05", got)
	}
}

func TestSynthesizeRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEngine(t)
	f.failQueries = 1

	c, err := New(srv.URL, WithCache(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Synthesize(context.Background(), "やあ", Params{Speaker: 1, Speed: 1, Pitch: 0}); err != nil {
		t.Fatalf("Synthesize after one 500: %v", err)
	}
	if got := atomic.LoadInt32(&f.queryCalls); got != 2 {
		t.Errorf("audio_query calls = %d, want 2", got)
	}
}

func TestSynthesizeUnavailableAfterRetries(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEngine(t)
	f.failQueries = 10

	c, err := New(srv.URL, WithCache(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Synthesize(context.Background(), "やあ", Params{Speaker: 1, Speed: 1, Pitch: 0})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if got := atomic.LoadInt32(&f.queryCalls); got != 2 {
		t.Errorf("audio_query calls = %d, want 2 (retry budget)", got)
	}
}

func TestSynthesizeInvalidPayloadNotRetried(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEngine(t)
	f.emptyAudio = true

	c, err := New(srv.URL, WithCache(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Synthesize(context.Background(), "やあ", Params{Speaker: 1, Speed: 1, Pitch: 0})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	if got := atomic.LoadInt32(&f.synthCalls); got != 1 {
		t.Errorf("synthesis calls = %d, want 1 (no retry on invalid payload)", got)
	}
}

func TestSynthesizeTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithTimeout(50*time.Millisecond), WithCache(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Synthesize(context.Background(), "やあ", Params{Speaker: 1, Speed: 1, Pitch: 0})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestSynthesizeMemoCache(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEngine(t)
	c, err := New(srv.URL, WithCache(8, time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	p := Params{Speaker: 3, Speed: 1, Pitch: 0}
	for range 3 {
		if _, err := c.Synthesize(context.Background(), "同じ文", p); err != nil {
			t.Fatal(err)
		}
	}
	if got := atomic.LoadInt32(&f.synthCalls); got != 1 {
		t.Errorf("synthesis calls = %d, want 1 (served from cache)", got)
	}

	// Different params miss the cache.
	if _, err := c.Synthesize(context.Background(), "同じ文", Params{Speaker: 3, Speed: 1.5, Pitch: 0}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&f.synthCalls); got != 2 {
		t.Errorf("synthesis calls = %d, want 2 after params change", got)
	}
}

func TestSpeakers(t *testing.T) {
	t.Parallel()

	_, srv := newFakeEngine(t)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	speakers, err := c.Speakers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(speakers) != 1 || speakers[0].Styles[0].ID != 3 {
		t.Errorf("speakers = %+v, want ずんだもん style 3", speakers)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	_, srv := newFakeEngine(t)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "0.22.0" {
		t.Errorf("version = %q, want 0.22.0", v)
	}
}
