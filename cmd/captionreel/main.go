package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captionreel",
		Short: "Turn an image or video plus caption text into a captioned 1080x1920 video",
		Example: "captionreel bot\n" +
			"captionreel worker\n" +
			"captionreel render photo.jpg --caption \"Monday mood\" --fade --out reel.mp4",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newBotCommand(),
		newWorkerCommand(),
		newRenderCommand(),
		newEnqueueCommand(),
	)

	return cmd
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
