package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobarin/captionreel/internal/models"
	"github.com/bobarin/captionreel/internal/queue"
)

func newEnqueueCommand() *cobra.Command {
	var (
		chatID  string
		fileID  string
		kind    string
		caption string
		fade    bool
		file    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Push one render job onto the queue",
		Long: "Push one render job onto the queue, built from flags or read as JSON\n" +
			"from --file (\"-\" for stdin). Useful for exercising a worker.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var job *models.Job
			if file != "" {
				raw, err := readInput(file)
				if err != nil {
					return err
				}
				if job, err = models.DecodeJob(raw); err != nil {
					return err
				}
			} else {
				job = &models.Job{
					JobID:       uuid.NewString(),
					ChatID:      chatID,
					FileID:      fileID,
					MediaKind:   models.MediaKind(kind),
					CaptionText: caption,
					ApplyFade:   fade,
				}
			}

			cfg, _, err := loadConfig("enqueue")
			if err != nil {
				return err
			}
			q, err := queue.New(cfg.RedisURL, cfg.QueueName)
			if err != nil {
				return err
			}
			defer q.Close()

			if err := q.Enqueue(cmd.Context(), job); err != nil {
				return err
			}
			n, err := q.Length(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s queued on %s (%d waiting)\n", job.JobID, q.Name(), n)
			return nil
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "Chat id the result is delivered to")
	cmd.Flags().StringVar(&fileID, "file-id", "", "Telegram file id of the media")
	cmd.Flags().StringVar(&kind, "kind", "image", "image or video")
	cmd.Flags().StringVarP(&caption, "caption", "c", "", "Caption text")
	cmd.Flags().BoolVar(&fade, "fade", false, "Apply the fade-in effect")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the job as JSON from this file")

	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
