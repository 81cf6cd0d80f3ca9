package overlay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// mediaURLPrefix is where library files are served from; URL is the only
// field the rendering side needs to locate bytes.
const mediaURLPrefix = "/static/media/"

// ErrFileNotFound is returned when a library operation references a file
// that does not exist on disk.
var ErrFileNotFound = errors.New("file not found")

// ErrFileTooLarge is returned when an upload exceeds the configured size
// limit.
var ErrFileTooLarge = errors.New("file too large")

// ErrUnsupportedMedia is returned when an upload's content type is not an
// accepted image or video format.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// mediaExtensions maps accepted file extensions to the media type items
// built from them get.
var mediaExtensions = map[string]MediaType{
	".jpg":  MediaTypeImage,
	".jpeg": MediaTypeImage,
	".png":  MediaTypeImage,
	".gif":  MediaTypeImage,
	".webp": MediaTypeImage,
	".mp4":  MediaTypeVideo,
	".webm": MediaTypeVideo,
	".ogg":  MediaTypeVideo,
}

// allowedContentTypes maps accepted upload content types to media types.
var allowedContentTypes = map[string]MediaType{
	"image/jpeg": MediaTypeImage,
	"image/jpg":  MediaTypeImage,
	"image/png":  MediaTypeImage,
	"image/gif":  MediaTypeImage,
	"image/webp": MediaTypeImage,
	"video/mp4":  MediaTypeVideo,
	"video/webm": MediaTypeVideo,
	"video/ogg":  MediaTypeVideo,
}

// Library manages the media files backing overlay items: it scans the media
// directory, persists uploads, deletes files, and acts as the
// file-existence oracle for startup pruning. It never touches SharedState.
type Library struct {
	dir         string
	maxFileSize int64
	log         *slog.Logger
}

// NewLibrary opens (creating if necessary) the media directory.
func NewLibrary(dir string, maxFileSize int64, log *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Library{dir: dir, maxFileSize: maxFileSize, log: log}, nil
}

// Dir returns the library's root directory.
func (l *Library) Dir() string {
	return l.dir
}

// Scan lists the library as MediaItem-shaped records, one per recognized
// file. Each call assigns fresh ids; scan results are library listings, not
// active overlay items.
func (l *Library) Scan() ([]MediaItem, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read media dir: %w", err)
	}

	items := make([]MediaItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		mediaType, ok := mediaExtensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		items = append(items, NewMediaItem(uuid.NewString(), ItemOptions{
			Type:     mediaType,
			Filename: entry.Name(),
			URL:      mediaURLPrefix + entry.Name(),
		}))
	}
	return items, nil
}

// Exists reports whether the backing file for the given item URL is present.
// URLs outside the library's serving prefix are treated as missing.
func (l *Library) Exists(url string) bool {
	name, ok := strings.CutPrefix(url, mediaURLPrefix)
	if !ok || name == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(l.dir, filepath.Base(name)))
	return err == nil
}

// Save persists one uploaded file under a fresh uuid-based name (keeping
// the original extension) and returns a MediaItem-shaped record for it.
// The original filename is preserved in the item's Filename field.
func (l *Library) Save(filename, contentType string, r io.Reader) (MediaItem, error) {
	mediaType, ok := allowedContentTypes[contentType]
	if !ok {
		return MediaItem{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(l.dir, stored)

	f, err := os.Create(path)
	if err != nil {
		return MediaItem{}, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, l.maxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > l.maxFileSize {
		err = fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, l.maxFileSize)
	}
	if err != nil {
		os.Remove(path)
		return MediaItem{}, err
	}

	l.log.Info("file uploaded",
		slog.String("filename", filename),
		slog.String("stored_as", stored),
		slog.Int64("size", n))

	return NewMediaItem(uuid.NewString(), ItemOptions{
		Type:     mediaType,
		Filename: filename,
		URL:      mediaURLPrefix + stored,
	}), nil
}

// Delete removes one file from the library by name. The name is reduced to
// its base so callers cannot escape the media directory.
func (l *Library) Delete(filename string) error {
	path := filepath.Join(l.dir, filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	l.log.Info("file deleted from library", slog.String("filename", filename))
	return nil
}
