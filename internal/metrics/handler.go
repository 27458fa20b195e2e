package metrics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// SnapshotProvider abstracts Manager for testing.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (map[string]int64, map[string]summaryAgg, error)
}

// Summary is the JSON form of one persisted summary.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// Report is the body served by Handler.
type Report struct {
	GeneratedAt time.Time          `json:"generatedAt"`
	Counters    map[string]int64   `json:"counters"`
	Summaries   map[string]Summary `json:"summaries"`
}

func newReport(counters map[string]int64, summaries map[string]summaryAgg, now time.Time) Report {
	out := Report{GeneratedAt: now.UTC(), Counters: counters, Summaries: make(map[string]Summary, len(summaries))}
	if out.Counters == nil {
		out.Counters = map[string]int64{}
	}
	for name, agg := range summaries {
		out.Summaries[name] = Summary{Count: agg.count, Sum: agg.sum, Min: agg.min, Max: agg.max}
	}
	return out
}

// Handler serves a JSON Report of provider's snapshot.
// A non-empty token requires "Authorization: Bearer <token>".
func Handler(provider SnapshotProvider, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if token != "" && !bearerMatches(r.Header.Get("Authorization"), token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="metrics"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		counters, summaries, err := provider.Snapshot(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newReport(counters, summaries, time.Now()))
	}
}

func bearerMatches(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
