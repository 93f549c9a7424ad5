package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"
)

// Demo echo backend for local testing: reflects method, path, and headers so
// header transforms are visible end to end.

type Response struct {
	Message   string              `json:"message"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Timestamp string              `json:"timestamp"`
}

func handler(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Message:   "Hello from Backend Server!",
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   r.Header,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	// Echo request headers back as response headers too.
	for name, values := range r.Header {
		for _, v := range values {
			w.Header().Add("Echo-"+name, v)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	json.NewEncoder(w).Encode(response)

	log.Printf("[%s] %s %s", time.Now().Format("15:04:05"), r.Method, r.URL.Path)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	http.HandleFunc("/", handler)
	http.HandleFunc("/health", healthHandler)

	log.Printf("echo backend listening on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal(err)
	}
}
