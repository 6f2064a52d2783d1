// Package media describes the files the anonymization client accepts: their
// kind (image or video), content type, and raw content. The accepted formats
// live in an embedded registry so the CLI and the web UI agree on one list.
package media

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed formats.yaml
var formatsYAML []byte

// Kind classifies a file as an image or a video. The kind decides which
// anonymization endpoint handles the file.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Format describes one accepted file extension.
type Format struct {
	Kind        Kind
	ContentType string
}

// formats maps lowercase file extensions (with leading dot) to their format.
var formats = loadFormats()

type formatsConfig struct {
	Image map[string]string `yaml:"image"`
	Video map[string]string `yaml:"video"`
}

func loadFormats() map[string]Format {
	var cfg formatsConfig
	if err := yaml.Unmarshal(formatsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded formats.yaml: " + err.Error())
	}

	result := make(map[string]Format, len(cfg.Image)+len(cfg.Video))
	for ext, contentType := range cfg.Image {
		result[ext] = Format{Kind: KindImage, ContentType: contentType}
	}
	for ext, contentType := range cfg.Video {
		result[ext] = Format{Kind: KindVideo, ContentType: contentType}
	}
	return result
}

// DetectFormat returns the format for a filename based on its extension.
func DetectFormat(name string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	format, ok := formats[ext]
	return format, ok
}

// Supported reports whether the filename has an accepted media extension.
func Supported(name string) bool {
	_, ok := DetectFormat(name)
	return ok
}

// File is an immutable reference to one selected file: its display name,
// metadata, and raw content. Content stays in memory for the lifetime of the
// queue entry that owns it.
type File struct {
	Name        string
	Size        int64
	Kind        Kind
	ContentType string
	Data        []byte
}

// FromBytes builds a File from in-memory content, e.g. a web upload.
func FromBytes(name string, data []byte) (File, error) {
	format, ok := DetectFormat(name)
	if !ok {
		return File{}, fmt.Errorf("unsupported media type: %s", name)
	}
	return File{
		Name:        filepath.Base(name),
		Size:        int64(len(data)),
		Kind:        format.Kind,
		ContentType: format.ContentType,
		Data:        data,
	}, nil
}

// FromPath reads a local file into a File.
func FromPath(path string) (File, error) {
	format, ok := DetectFormat(path)
	if !ok {
		return File{}, fmt.Errorf("unsupported media type: %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-provided file path for upload
	if err != nil {
		return File{}, fmt.Errorf("could not read file: %w", err)
	}

	return File{
		Name:        filepath.Base(path),
		Size:        int64(len(data)),
		Kind:        format.Kind,
		ContentType: format.ContentType,
		Data:        data,
	}, nil
}

// IsImage reports whether the file is an image.
func (f File) IsImage() bool {
	return f.Kind == KindImage
}

// IsVideo reports whether the file is a video.
func (f File) IsVideo() bool {
	return f.Kind == KindVideo
}
