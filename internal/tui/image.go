package tui

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apexion-ai/threadline/internal/provider"
)

// maxImageBytes matches the largest photo the bot accepts.
const maxImageBytes = 20 * 1024 * 1024

// imageExtensions maps file extensions to MIME types.
var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// imagePathRe matches absolute or home-relative paths ending in an image extension.
// It handles paths that may be wrapped in quotes or contain escaped spaces.
var imagePathRe = regexp.MustCompile(`(?:['"]([^'"]+\.(?:png|jpe?g|gif|webp))['"]|(/[^\s]+\.(?:png|jpe?g|gif|webp))|(~[^\s]+\.(?:png|jpe?g|gif|webp)))`)

// detectImagePath extracts image file paths from user input text.
// Returns the list of detected paths and the text with those paths removed.
func detectImagePath(text string) (paths []string, clean string) {
	clean = text
	seen := make(map[string]bool)

	matches := imagePathRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text
	}

	// Collect paths and their positions (reverse order for safe removal).
	type match struct {
		path  string
		start int
		end   int
	}
	var found []match

	for _, loc := range matches {
		var p string
		// loc[2:4] = quoted group, loc[4:6] = absolute path, loc[6:8] = home path
		if loc[2] >= 0 {
			p = text[loc[2]:loc[3]]
		} else if loc[4] >= 0 {
			p = text[loc[4]:loc[5]]
		} else if loc[6] >= 0 {
			p = text[loc[6]:loc[7]]
		}
		if p == "" {
			continue
		}

		// Expand ~ to home directory.
		if strings.HasPrefix(p, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[1:])
			}
		}

		// Unescape backslash-spaces (common in drag-and-drop).
		p = strings.ReplaceAll(p, "\\ ", " ")

		if seen[p] {
			continue
		}

		// Verify the file exists and has a recognized image extension.
		ext := strings.ToLower(filepath.Ext(p))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}

		seen[p] = true
		found = append(found, match{path: p, start: loc[0], end: loc[1]})
	}

	if len(found) == 0 {
		return nil, text
	}

	// Remove matched spans from text (process in reverse to preserve indices).
	cleanBytes := []byte(text)
	for i := len(found) - 1; i >= 0; i-- {
		m := found[i]
		paths = append([]string{m.path}, paths...) // prepend to maintain order
		cleanBytes = append(cleanBytes[:m.start], cleanBytes[m.end:]...)
	}

	clean = strings.TrimSpace(string(cleanBytes))
	return paths, clean
}

// readImage reads an image file for a turn.
func readImage(path string) (provider.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mediaType, ok := imageExtensions[ext]
	if !ok {
		return provider.Image{}, fmt.Errorf("unsupported image format: %s", ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return provider.Image{}, fmt.Errorf("cannot stat image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return provider.Image{}, fmt.Errorf("image too large: %d bytes (max %d)", info.Size(), maxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return provider.Image{}, fmt.Errorf("cannot read image: %w", err)
	}
	return provider.Image{
		Data:      base64.StdEncoding.EncodeToString(data),
		MediaType: mediaType,
	}, nil
}
