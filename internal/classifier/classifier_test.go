package classifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-security/kestrel/internal/domain"
)

// testForest builds a two-tree forest over 2 features:
// tree A splits on feature 0 at 0.5, tree B always predicts malicious.
func testForest() *Forest {
	return &Forest{
		ModelType: "random_forest",
		Features:  2,
		Classes:   []int{0, 1},
		Trees: []treeDump{
			{
				ChildrenLeft:  []int{1, -1, -1},
				ChildrenRight: []int{2, -1, -1},
				Feature:       []int{0, -2, -2},
				Threshold:     []float64{0.5, 0, 0},
				Value:         [][]float64{{0, 0}, {10, 0}, {0, 10}},
			},
			{
				ChildrenLeft:  []int{-1},
				ChildrenRight: []int{-1},
				Feature:       []int{-2},
				Threshold:     []float64{0},
				Value:         [][]float64{{0, 5}},
			},
		},
	}
}

func TestForestPredictProba(t *testing.T) {
	f := testForest()

	// Left branch of tree A: benign 1.0; tree B: malicious 1.0.
	// Averaged malicious mass = 0.5.
	probs, err := f.PredictProba([]float64{0.2, 0})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if probs[1] != 0.5 {
		t.Errorf("expected malicious mass 0.5, got %v", probs[1])
	}

	// Right branch: both trees vote malicious.
	probs, err = f.PredictProba([]float64{0.9, 0})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if probs[1] != 1.0 {
		t.Errorf("expected malicious mass 1.0, got %v", probs[1])
	}
}

func TestForestVectorLengthMismatch(t *testing.T) {
	f := testForest()
	if _, err := f.PredictProba([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected error for wrong vector length")
	}
}

func TestLoadForestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	data, err := json.Marshal(testForest())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loaded, err := LoadForest(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Features != 2 || len(loaded.Trees) != 2 {
		t.Errorf("loaded artifact does not match dump: %+v", loaded)
	}
}

func TestLoadForestRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"no trees", `{"model_type":"random_forest","n_features":2,"classes":[0,1],"trees":[]}`},
		{"inconsistent arrays", `{"model_type":"random_forest","n_features":2,"classes":[0,1],
			"trees":[{"children_left":[-1],"children_right":[],"feature":[-2],"threshold":[0],"value":[[1,1]]}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".json")
			if err := os.WriteFile(path, []byte(tc.body), 0644); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if _, err := LoadForest(path); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

func TestLoadForestMissingFile(t *testing.T) {
	if _, err := LoadForest("/nonexistent/model.json"); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestAdapterProbability(t *testing.T) {
	adapter := NewAdapter(testForest())

	score, err := adapter.ScoreVector([]float64{0.9, 0})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if score != 1.0 {
		t.Errorf("expected score 1.0, got %v", score)
	}
}

// binaryOnly supports hard predictions but not probabilities.
type binaryOnly struct {
	label int
}

func (b *binaryOnly) NumFeatures() int                      { return 0 }
func (b *binaryOnly) Predict(vector []float64) (int, error) { return b.label, nil }

func TestAdapterBinaryFallback(t *testing.T) {
	adapter := NewAdapter(&binaryOnly{label: 1})

	score, err := adapter.ScoreVector([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if score != 1.0 {
		t.Errorf("expected degenerate score 1.0, got %v", score)
	}

	adapter = NewAdapter(&binaryOnly{label: 0})
	score, _ = adapter.ScoreVector([]float64{1, 2, 3})
	if score != 0.0 {
		t.Errorf("expected degenerate score 0.0, got %v", score)
	}
}

func TestAdapterDimensionCheck(t *testing.T) {
	adapter := NewAdapter(testForest())
	if _, err := adapter.ScoreVector([]float64{1}); err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestRemoteScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" {
			http.NotFound(w, r)
			return
		}

		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.EventType != string(domain.EventHandshake) {
			http.Error(w, "wrong event type", http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(remoteResponse{Probability: 0.42})
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, domain.EventHandshake, 5*time.Second)

	score, err := remote.ScoreVector([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("remote score failed: %v", err)
	}
	if score != 0.42 {
		t.Errorf("expected 0.42, got %v", score)
	}
}

func TestRemoteScorerErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		remote := NewRemote(srv.URL, domain.EventFile, time.Second)
		if _, err := remote.ScoreVector([]float64{1}); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("out of range probability", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(remoteResponse{Probability: 1.7})
		}))
		defer srv.Close()

		remote := NewRemote(srv.URL, domain.EventFile, time.Second)
		if _, err := remote.ScoreVector([]float64{1}); err == nil {
			t.Error("expected error for probability outside [0,1]")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		remote := NewRemote("http://127.0.0.1:1", domain.EventFile, time.Second)
		if _, err := remote.ScoreVector([]float64{1}); err == nil {
			t.Error("expected error for unreachable scorer")
		}
	})
}

func TestNewFactory(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(testForest())
	if err := os.WriteFile(filepath.Join(dir, "handshake_model.json"), data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg := domain.ClassifierConfig{
		Source:        "file",
		ModelDir:      dir,
		HandshakeFile: "handshake_model.json",
		FileFile:      "file_model.json",
	}

	clf, err := New(cfg, domain.EventHandshake)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if clf == nil {
		t.Fatal("expected classifier")
	}

	// file model artifact is absent
	if _, err := New(cfg, domain.EventFile); err == nil {
		t.Error("expected error for missing file model")
	}

	if _, err := New(domain.ClassifierConfig{Source: "carrier-pigeon"}, domain.EventFile); err == nil {
		t.Error("expected error for unsupported source")
	}
}
