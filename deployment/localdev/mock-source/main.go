package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

type order struct {
	ID        int       `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// feed grows by a steady trickle with a burst every tenth poll so the
// pattern detector has something to classify.
type feed struct {
	mu     sync.Mutex
	polls  int
	orders []order
}

func (f *feed) next() []order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	added := 2
	if f.polls%10 == 0 {
		added = 25
	}
	for i := 0; i < added; i++ {
		f.orders = append(f.orders, order{ID: len(f.orders) + 1, Status: "pending", CreatedAt: time.Now().UTC()})
	}
	out := make([]order, len(f.orders))
	copy(out, f.orders)
	return out
}

func main() {
	orders := &feed{}
	var flakyPolls int
	var flakyMu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, orders.next())
	})

	// Fails every third poll to exercise backoff.
	mux.HandleFunc("/api/v1/flaky", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		flakyMu.Lock()
		flakyPolls++
		n := flakyPolls
		flakyMu.Unlock()
		if n%3 == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"poll": n, "at": time.Now().UTC()})
	})

	logger := log.New(log.Writer(), "source-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8081",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8081")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforceGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
