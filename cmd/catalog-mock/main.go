package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
)

// catalogEntry mirrors the payload the catalog client decodes.
type catalogEntry struct {
	Title          string   `json:"title,omitempty"`
	Name           string   `json:"name,omitempty"`
	PosterPath     *string  `json:"posterPath,omitempty"`
	ReleaseDate    *string  `json:"releaseDate,omitempty"`
	FirstAirDate   *string  `json:"firstAirDate,omitempty"`
	Runtime        *int     `json:"runtime,omitempty"`
	EpisodeRunTime []int    `json:"episodeRunTime,omitempty"`
	VoteAverage    *float64 `json:"voteAverage,omitempty"`
}

func main() {
	var (
		port    = flag.String("port", "9099", "port to listen on")
		data    = flag.String("data", "catalog.json", "path to mock data file")
		apiKey  = flag.String("api-key", "", "require this X-API-Key when set")
		verbose = flag.Bool("log", false, "enable request logging")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	file, err := os.ReadFile(*data)
	if err != nil {
		logger.Error("read mock data", "error", err)
		os.Exit(1)
	}

	// Keyed by media type, then catalog id.
	var payload map[string]map[string]catalogEntry
	if err := json.Unmarshal(file, &payload); err != nil {
		logger.Error("parse mock data", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /titles/{mediaType}/{catalogID}", func(w http.ResponseWriter, r *http.Request) {
		if *apiKey != "" && r.Header.Get("X-API-Key") != *apiKey {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		mediaType, catalogID := r.PathValue("mediaType"), r.PathValue("catalogID")
		if *verbose {
			logger.Info("lookup", "media_type", mediaType, "catalog_id", catalogID)
		}
		entry, ok := payload[mediaType][catalogID]
		if !ok {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entry); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	addr := ":" + *port
	count := 0
	for _, entries := range payload {
		count += len(entries)
	}
	logger.Info("mock catalog listening", "addr", addr, "entries", count)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
