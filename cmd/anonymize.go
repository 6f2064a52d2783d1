package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/config"
	"github.com/faceless-tools/faceless/internal/constants"
	"github.com/faceless-tools/faceless/internal/dispatch"
	"github.com/faceless-tools/faceless/internal/media"
	"github.com/faceless-tools/faceless/internal/queue"
)

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize <file>",
	Short: "Anonymize faces in a single image or video",
	Long: `Anonymize every detected face in one image or video.

The file is submitted to the anonymization service and the processed result
is written next to the input as anonymized_<name>, or to --output.
Supported image formats: jpg, jpeg, png, gif, webp, bmp.
Supported video formats: mp4, mov, avi, webm, mkv.

Example:
  faceless anonymize portrait.jpg
  faceless anonymize --method pixelate --intensity 80 group-photo.png
  faceless anonymize --output /tmp/clean.mp4 party.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: runAnonymize,
}

func init() {
	rootCmd.AddCommand(anonymizeCmd)
	anonymizeCmd.Flags().StringP("method", "m", string(anonymizer.MethodBlur), "Anonymization method: blur, pixelate or mask")
	anonymizeCmd.Flags().IntP("intensity", "i", constants.DefaultIntensity, "Anonymization intensity (10-100)")
	anonymizeCmd.Flags().StringP("output", "o", "", "Output path (defaults to anonymized_<name> next to the input)")
}

// anonymizeOptions reads and validates the method and intensity flags shared
// by the anonymize and batch commands.
func anonymizeOptions(cmd *cobra.Command) (anonymizer.Options, error) {
	settings := dispatch.Settings{
		Method:    anonymizer.Method(mustGetString(cmd, "method")),
		Intensity: mustGetInt(cmd, "intensity"),
		Mode:      queue.ModeSingle,
	}
	if err := settings.Validate(); err != nil {
		return anonymizer.Options{}, err
	}
	return anonymizer.Options{Method: settings.Method, Intensity: settings.Intensity}, nil
}

func runAnonymize(cmd *cobra.Command, args []string) error {
	opts, err := anonymizeOptions(cmd)
	if err != nil {
		return err
	}

	file, err := media.FromPath(args[0])
	if err != nil {
		return err
	}

	cfg := config.Load()
	client, err := anonymizer.New(serviceURL(cfg))
	if err != nil {
		return err
	}

	upload := anonymizer.Upload{
		Name:        file.Name,
		ContentType: file.ContentType,
		Reader:      bytes.NewReader(file.Data),
	}

	fmt.Printf("Anonymizing %s %s (%s, intensity %d)...\n", file.Kind, file.Name, opts.Method, opts.Intensity)

	ctx := context.Background()
	var result *anonymizer.Result
	if file.IsVideo() {
		result, err = client.AnonymizeVideo(ctx, upload, opts)
	} else {
		result, err = client.AnonymizeImage(ctx, upload, opts)
	}
	if err != nil {
		if anonymizer.IsQuotaExhausted(err) {
			return fmt.Errorf("anonymization quota exhausted, try again later: %w", err)
		}
		return fmt.Errorf("anonymization failed: %w", err)
	}

	outPath := mustGetString(cmd, "output")
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(args[0]), constants.AnonymizedPrefix+file.Name)
	}
	if err := os.WriteFile(outPath, result.Data, 0644); err != nil { //nolint:gosec // user-chosen output path
		return fmt.Errorf("could not write output file: %w", err)
	}

	fmt.Printf("Done! %d face(s) anonymized", result.FacesDetected)
	if result.FramesProcessed > 0 {
		fmt.Printf(" across %d frame(s)", result.FramesProcessed)
	}
	fmt.Printf("\nSaved to %s\n", outPath)
	fmt.Printf("Quota: %d used, %d remaining\n", result.RateUsed, result.RateRemaining)
	return nil
}
