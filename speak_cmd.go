package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechstream/internal/audio"
	"github.com/dgnsrekt/speechstream/pkg/voice"
)

var (
	speakVoice     string
	speakSpeed     float64
	speakPitch     float64
	speakNoPlay    bool
	speakNoCache   bool
	speakVolume    float64
	speakWaitLimit time.Duration

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT]",
		Short: "Synthesize text and play it",
		Long: "\nSynthesize TEXT (or stdin with \"-\") through the configured voice\n" +
			"server and play it. Clips already in the cache play without any\n" +
			"network traffic.",
		Args: cobra.MaximumNArgs(1),
		RunE: runSpeak,
	}
)

func init() {
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "voice name")
	speakCmd.Flags().Float64Var(&speakSpeed, "speed", 0, "speed multiplier")
	speakCmd.Flags().Float64Var(&speakPitch, "pitch", 0, "pitch multiplier")
	speakCmd.Flags().Float64Var(&speakVolume, "volume", 1.0, "playback volume, 0 to 1")
	speakCmd.Flags().BoolVar(&speakNoPlay, "no-play", false, "synthesize and cache without playing")
	speakCmd.Flags().BoolVar(&speakNoCache, "no-cache", false, "stream without touching any cache")
	speakCmd.Flags().DurationVar(&speakWaitLimit, "wait", 60*time.Second, "maximum wait for synthesis")
}

// speakText resolves the text argument, reading stdin for "-".
func speakText(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return args[0], nil
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := speakText(args)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("nothing to speak")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := voice.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := client.Start(cmd.Context()); err != nil {
		return err
	}
	defer client.Stop()

	var player *audio.Player
	if !speakNoPlay {
		player, err = audio.NewPlayer(audio.PlayerConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			QueueDepth: 4,
		}, client)
		if err != nil {
			return fmt.Errorf("audio output unavailable: %w", err)
		}
		player.SetVolume(speakVolume)
		defer player.Close()
	}

	done := make(chan error, 1)
	_, err = client.RequestClip(text, voice.ClipRequestOptions{
		Settings: voice.VoiceSettings{
			Voice: speakVoice,
			Speed: speakSpeed,
			Pitch: speakPitch,
		},
		StreamingOnly: speakNoCache,
	}, voice.ClipEvents{
		OnReady: func(clip *voice.Clip) {
			if player == nil {
				return
			}
			if err := player.Enqueue(clip); err != nil {
				log.Warn("could not enqueue clip", "error", err)
			}
		},
		OnComplete: func(clip *voice.Clip) {
			log.Debug("clip complete",
				"identity", clip.Identity,
				"duration", fmt.Sprintf("%.2fs", clip.Buffer.Duration()))
			done <- nil
		},
		OnError: func(_ *voice.Clip, err error) {
			done <- err
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), speakWaitLimit)
	defer cancel()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		client.CancelAll()
		return fmt.Errorf("synthesis did not finish within %s", speakWaitLimit)
	}

	if player != nil {
		player.Flush()
		player.Close()
	}
	return nil
}
