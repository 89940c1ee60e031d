// Command shivai-call drives a realtime call with a deployed agent from
// the terminal: microphone in, transcript out, typed chat on stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shivaitech/shivai-calling-frontend-sub001/pkg/audio"
	shivai "github.com/shivaitech/shivai-calling-frontend-sub001/sdk"
)

func main() {
	_ = godotenv.Load()

	agent := flag.String("agent", os.Getenv("SHIVAI_AGENT_ID"), "agent id to call")
	language := flag.String("language", os.Getenv("SHIVAI_LANGUAGE"), "language tag (default en-US)")
	tokenURL := flag.String("token-url", os.Getenv("SHIVAI_TOKEN_URL"), "credential endpoint URL")
	textOnly := flag.Bool("text-only", false, "skip microphone and speaker setup")
	volume := flag.Float64("volume", audio.DefaultPlaybackVolume, "agent playback volume (0-1]")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if strings.TrimSpace(*agent) == "" {
		fmt.Fprintln(os.Stderr, "missing -agent (or SHIVAI_AGENT_ID)")
		os.Exit(2)
	}
	if strings.TrimSpace(*tokenURL) == "" {
		fmt.Fprintln(os.Stderr, "missing -token-url (or SHIVAI_TOKEN_URL)")
		os.Exit(2)
	}

	opts := []shivai.Option{
		shivai.WithLogger(logger),
		shivai.WithPlaybackVolume(*volume),
	}

	if !*textOnly {
		mic, err := audio.NewMicrophone(audio.DefaultCaptureFormat())
		if err != nil {
			logger.Error("microphone init failed; continuing text-only", "error", err)
		}
		speaker, err := audio.NewSpeaker(audio.DefaultPlaybackFormat(), *volume)
		if err != nil {
			logger.Error("speaker init failed; continuing without playback", "error", err)
		}
		var source audio.Source
		var sink audio.Sink
		if mic != nil {
			source = mic
			defer mic.Close()
		}
		if speaker != nil {
			sink = speaker
			defer speaker.Close()
		}
		opts = append(opts, shivai.WithAudio(source, sink))
	}

	session := shivai.NewSession(*tokenURL, opts...)

	done := make(chan struct{})
	session.OnMessage(func(m shivai.Message) {
		speaker := "agent"
		if m.FromLocalUser {
			speaker = "you"
		}
		fmt.Printf("[%s %s] %s\n", speaker, m.Channel, m.Text)
	})
	session.OnStatus(func(text string, state shivai.State) {
		logger.Info(text, "state", state)
	})
	session.OnError(func(message string) {
		logger.Error(message)
	})
	session.OnDisconnected(func(reason string) {
		logger.Info("session ended", "reason", reason)
		select {
		case <-done:
		default:
			close(done)
		}
	})

	ctx := context.Background()
	if err := session.Connect(ctx, *agent, *language); err != nil {
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("type to chat, /mute to toggle the microphone, ctrl-c to hang up")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/mute" {
				enabled, _ := session.ToggleMute(ctx)
				if enabled {
					fmt.Println("microphone on")
				} else {
					fmt.Println("microphone off")
				}
				continue
			}
			if err := session.SendText(ctx, line); err != nil {
				logger.Warn("send failed", "error", err)
			}
		}
	}()

	select {
	case <-sigCh:
	case <-done:
	}
	_ = session.Disconnect(ctx)
}
