// Command mockshop is a development backend for the SDK: it serves a paced
// chunked audio-like stream and a websocket endpoint that echoes typed
// envelopes and answers pings.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Warmaster-Hoshino/findshop-go/internal/duplex"
	"github.com/Warmaster-Hoshino/findshop-go/internal/log"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func main() {
	log.Configure(log.Config{})
	logger := log.WithComponent("mockshop")

	listenAddr := envOr("LISTEN_ADDR", ":8080")
	chunkSize := envInt("CHUNK_SIZE", 4096)
	chunksPerSecond := envInt("CHUNKS_PER_SECOND", 20)
	totalBytes := envInt("STREAM_BYTES", 160000)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/tts", func(w http.ResponseWriter, req *http.Request) {
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)

		// Pace chunk emission so clients see a realistic live transfer.
		limiter := rate.NewLimiter(rate.Limit(chunksPerSecond), 1)
		chunk := make([]byte, chunkSize)
		for i := range chunk {
			chunk[i] = byte(i)
		}
		sent := 0
		for sent < totalBytes {
			if err := limiter.Wait(req.Context()); err != nil {
				return
			}
			n := chunkSize
			if remaining := totalBytes - sent; remaining < n {
				n = remaining
			}
			if _, err := w.Write(chunk[:n]); err != nil {
				return
			}
			flusher.Flush()
			sent += n
		}
		logger.Info().Int("bytes", sent).Str("text", payload.Text).Msg("stream served")
	})

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var env duplex.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				logger.Warn().Err(err).Msg("unparseable client frame")
				continue
			}
			reply := env
			if env.Type == "ping" {
				reply = duplex.Envelope{Type: "pong", Timestamp: time.Now().UnixMilli()}
			}
			out, _ := json.Marshal(reply)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	})

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", listenAddr).Msg("mockshop listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
