package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

// transcribeChunkBytes is how much raw PCM goes out per upload frame.
const transcribeChunkBytes = 8 * 1024

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [FILE]",
	Short: "Transcribe raw PCM audio",
	Long: "\nUpload 16-bit little-endian PCM from FILE (or stdin with \"-\") to the\n" +
		"voice server and print transcription events as they stream back.",
	Args: cobra.MaximumNArgs(1),
	RunE: runTranscribe,
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	var input io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()
		input = file
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

	req, err := client.Transcribe(voice.SpeechEvents{
		OnEvent: func(raw json.RawMessage) {
			var evt struct {
				Text    string `json:"text"`
				Partial bool   `json:"partial"`
			}
			if err := json.Unmarshal(raw, &evt); err != nil || evt.Text == "" {
				return
			}
			if evt.Partial {
				fmt.Fprintf(os.Stderr, "\r%s", evt.Text)
				return
			}
			fmt.Fprintf(os.Stderr, "\r")
			fmt.Println(evt.Text)
		},
	}, false)
	if err != nil {
		return err
	}

	chunk := make([]byte, transcribeChunkBytes)
	for {
		n, readErr := input.Read(chunk)
		if n > 0 {
			if err := req.SendAudioData(chunk[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read audio: %w", readErr)
		}
	}
	if err := req.CloseAudioStream(); err != nil {
		return err
	}

	select {
	case <-req.Done():
	case <-cmd.Context().Done():
		req.Cancel()
		return cmd.Context().Err()
	}
	return req.Err()
}
