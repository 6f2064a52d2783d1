package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/config"
	"github.com/faceless-tools/faceless/internal/constants"
	"github.com/faceless-tools/faceless/internal/media"
)

var batchCmd = &cobra.Command{
	Use:   "batch <path> [path...]",
	Short: "Anonymize faces in a batch of images",
	Long: `Anonymize every supported image from the given files and folders in a
single batch request.

The batch endpoint accepts images only; videos are skipped. At most ten
images go into one request, extra files are left for a later run. By default
only files directly in the specified folders are considered. Use -r to search
subdirectories recursively.

Example:
  faceless batch /path/to/photos
  faceless batch -r /path/to/photos /path/to/more-photos
  faceless batch --method pixelate portrait1.jpg portrait2.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolP("recursive", "r", false, "Search for images recursively in subdirectories")
	batchCmd.Flags().StringP("method", "m", string(anonymizer.MethodBlur), "Anonymization method: blur, pixelate or mask")
	batchCmd.Flags().IntP("intensity", "i", constants.DefaultIntensity, "Anonymization intensity (10-100)")
	batchCmd.Flags().StringP("output-dir", "o", "", "Directory for anonymized files (defaults to each file's folder)")
}

// isBatchEligible checks if the path names a supported image. The batch
// endpoint does not accept videos.
func isBatchEligible(path string) bool {
	format, ok := media.DetectFormat(path)
	return ok && format.Kind == media.KindImage
}

// collectImagePaths gathers eligible image paths from files and folders.
func collectImagePaths(paths []string, recursive bool) ([]string, error) {
	var filePaths []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}

		if !info.IsDir() {
			if !isBatchEligible(path) {
				fmt.Printf("Skipping %s: not a supported image\n", filepath.Base(path))
				continue
			}
			filePaths = append(filePaths, path)
			continue
		}

		if recursive {
			// Walk directory recursively
			err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isBatchEligible(p) {
					filePaths = append(filePaths, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", path, err)
			}
		} else {
			// List files in folder (non-recursive)
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("cannot read folder %s: %w", path, err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if isBatchEligible(entry.Name()) {
					filePaths = append(filePaths, filepath.Join(path, entry.Name()))
				}
			}
		}
	}
	return filePaths, nil
}

// batchItem pairs a local file with the opaque wire name it was submitted
// under. Results come back keyed by wire name, so duplicate basenames from
// different folders never collide.
type batchItem struct {
	path string
	file media.File
	wire string
}

func runBatch(cmd *cobra.Command, args []string) error {
	opts, err := anonymizeOptions(cmd)
	if err != nil {
		return err
	}
	recursive := mustGetBool(cmd, "recursive")
	outputDir := mustGetString(cmd, "output-dir")

	filePaths, err := collectImagePaths(args, recursive)
	if err != nil {
		return err
	}
	if len(filePaths) == 0 {
		fmt.Println("No supported images found.")
		return nil
	}
	if len(filePaths) > constants.BatchQueueCapacity {
		fmt.Printf("Warning: found %d images but one batch request carries at most %d; processing the first %d\n",
			len(filePaths), constants.BatchQueueCapacity, constants.BatchQueueCapacity)
		filePaths = filePaths[:constants.BatchQueueCapacity]
	}

	items := make([]batchItem, 0, len(filePaths))
	uploads := make([]anonymizer.Upload, 0, len(filePaths))
	for _, path := range filePaths {
		file, err := media.FromPath(path)
		if err != nil {
			return err
		}
		wire := uuid.New().String() + strings.ToLower(filepath.Ext(file.Name))
		items = append(items, batchItem{path: path, file: file, wire: wire})
		uploads = append(uploads, anonymizer.Upload{
			Name:        wire,
			ContentType: file.ContentType,
			Reader:      bytes.NewReader(file.Data),
		})
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil { //nolint:gosec // user-chosen output directory
			return fmt.Errorf("could not create output directory: %w", err)
		}
	}

	cfg := config.Load()
	client, err := anonymizer.New(serviceURL(cfg))
	if err != nil {
		return err
	}

	fmt.Printf("Submitting %d image(s) in a single batch request (%s, intensity %d)...\n",
		len(items), opts.Method, opts.Intensity)

	resp, err := client.AnonymizeBatch(context.Background(), uploads, opts)
	if err != nil {
		if anonymizer.IsQuotaExhausted(err) {
			return fmt.Errorf("anonymization quota exhausted, try again later: %w", err)
		}
		return fmt.Errorf("batch anonymization failed: %w", err)
	}

	byWire := make(map[string]anonymizer.BatchResult, len(resp.Results))
	for _, result := range resp.Results {
		byWire[result.Filename] = result
	}

	// Save results one by one with progress bar
	saveBar := progressbar.NewOptions(len(items),
		progressbar.OptionSetDescription("Saving"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var resultLines []string
	var failures []string
	saved := 0
	for _, item := range items {
		result, ok := byWire[item.wire]
		switch {
		case !ok:
			failures = append(failures, fmt.Sprintf("%s: no result returned", item.file.Name))
		case !result.Succeeded():
			message := result.Error
			if message == "" {
				message = "processing failed"
			}
			failures = append(failures, fmt.Sprintf("%s: %s", item.file.Name, message))
		default:
			data, _, err := result.DecodeImage()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", item.file.Name, err))
				break
			}

			dir := outputDir
			if dir == "" {
				dir = filepath.Dir(item.path)
			}
			outPath := filepath.Join(dir, constants.AnonymizedPrefix+item.file.Name)
			if err := os.WriteFile(outPath, data, 0644); err != nil { //nolint:gosec // user-chosen output path
				failures = append(failures, fmt.Sprintf("%s: could not write output: %v", item.file.Name, err))
				break
			}
			saved++
			resultLines = append(resultLines, fmt.Sprintf("  %s: %d face(s) -> %s", item.file.Name, result.FacesDetected, outPath))
		}
		saveBar.Add(1)
	}
	fmt.Println()

	for _, line := range resultLines {
		fmt.Println(line)
	}
	for _, failure := range failures {
		fmt.Printf("Failed: %s\n", failure)
	}

	fmt.Printf("\nDone! %d of %d image(s) anonymized\n", saved, len(items))
	if resp.RateLimit != nil {
		fmt.Printf("Quota: %d used, %d remaining\n", resp.RateLimit.Used, resp.RateLimit.Remaining)
	}
	return nil
}
