// Command devstub stands in for both ends of the service during local
// development: a whisper-compatible /inference endpoint that answers every
// request with fixed text, and a device /receive-text endpoint that logs
// what it is sent.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/utterance-service/internal/audio"
	"github.com/skypro1111/utterance-service/internal/delivery"
	"github.com/skypro1111/utterance-service/internal/transcription"
)

const maxUploadBytes = 32 << 20

type stub struct {
	logger     *slog.Logger
	text       string
	avgLogprob float64
	delay      time.Duration
}

func (s *stub) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", s.handleInference)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/receive-text", s.handleReceiveText)
	return mux
}

func (s *stub) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
		return
	}

	s.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Int("audio_format", int(info.AudioFormat)),
		slog.Float64("duration_seconds", info.Duration),
		slog.String("language", r.FormValue("language")),
		slog.String("task", r.FormValue("task")),
		slog.String("response_format", r.FormValue("response_format")),
		slog.String("model", r.FormValue("model")),
	)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	seconds := info.Duration
	response := transcription.Response{
		Text:     s.text,
		Language: r.FormValue("language"),
		Duration: seconds,
		Segments: []transcription.Segment{{
			ID:         0,
			Start:      0,
			End:        seconds,
			Text:       s.text,
			AvgLogprob: s.avgLogprob,
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *stub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *stub) handleReceiveText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload delivery.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.logger.Info("Text received", slog.String("text", payload.Text))
	w.WriteHeader(http.StatusOK)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8178", "Listen address")
	text := flag.String("text", "buy milk", "Text returned for every request")
	avgLogprob := flag.Float64("avg-logprob", -0.25, "avg_logprob of the returned segment")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated inference time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	s := &stub{logger: logger, text: *text, avgLogprob: *avgLogprob, delay: *delay}

	logger.Info("Development stub starting",
		slog.String("inference", "http://"+*addr+"/inference"),
		slog.String("device", "http://"+*addr+"/receive-text"),
	)

	if err := http.ListenAndServe(*addr, s.routes()); err != nil {
		logger.Error("Stub server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
