package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TimestampLayout matches the suffix used for every copied asset.
const TimestampLayout = "20060102_150405"

// now is swapped in tests
var now = time.Now

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Msg("Error pretty printing")
	}
	fmt.Println(string(b))
}

// CreateFolder creates dir and any missing parents.
func CreateFolder(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	return nil
}

// TimestampedName returns prefix + current time + ext, e.g. input_image_20240906_120427.jpeg
func TimestampedName(prefix, ext string) string {
	return prefix + now().Format(TimestampLayout) + ext
}

// CopyFile copies src to dst, creating dst's directory.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := CreateFolder(filepath.Dir(dst)); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// CopyTimestamped copies src into dir under a timestamped name and returns the new path.
func CopyTimestamped(src, dir, prefix, ext string) (string, error) {
	dst := filepath.Join(dir, TimestampedName(prefix, ext))
	if err := CopyFile(src, dst); err != nil {
		return "", err
	}
	log.Debug().Str("src", src).Str("dst", dst).Msg("Copied asset")
	return dst, nil
}
