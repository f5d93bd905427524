package storage

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileManager owns the on-disk layout: uploaded submission images and
// rendered report PDFs, both under the data directory.
type FileManager struct {
	baseDir        string
	imageDir       string
	reportDir      string
	maxUploadBytes int64
}

var mimeExtensionFallback = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/tiff": ".tif",
	"image/bmp":  ".bmp",
}

func NewFileManager(baseDir string, maxUploadBytes int64) (*FileManager, error) {
	fm := &FileManager{
		baseDir:        baseDir,
		imageDir:       filepath.Join(baseDir, "images"),
		reportDir:      filepath.Join(baseDir, "reports"),
		maxUploadBytes: maxUploadBytes,
	}

	dirs := []string{fm.baseDir, fm.imageDir, fm.reportDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return fm, nil
}

// SaveUploadedImage stores an uploaded submission image under a fresh id,
// sniffing the content type to pick an extension when the filename has none.
func (fm *FileManager) SaveUploadedImage(file multipart.File, filename string) (string, error) {
	sample := make([]byte, 512)
	n, err := file.Read(sample)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read image sample: %w", err)
	}
	sample = sample[:n]

	ext := normalizeExtension(filename)
	contentType := strings.ToLower(http.DetectContentType(sample))

	if ext == "" {
		ext = fallbackExtension(contentType)
	}
	if ext == "" {
		ext = ".bin"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if contentType != "application/octet-stream" && !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unsupported upload content type %s", contentType)
	}

	id := uuid.NewString()
	path := filepath.Join(fm.imageDir, fmt.Sprintf("%s%s", id, ext))

	if err := fm.writeWithLimit(path, sample, file); err != nil {
		return "", err
	}

	return path, nil
}

func (fm *FileManager) ReadImage(path string) ([]byte, error) {
	if filepath.Dir(path) != fm.imageDir {
		return nil, fmt.Errorf("image path outside image directory")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

func (fm *FileManager) ReportPath(jobID string) string {
	return filepath.Join(fm.reportDir, fmt.Sprintf("%s.pdf", jobID))
}

func (fm *FileManager) writeWithLimit(path string, sample []byte, file multipart.File) error {
	if fm.maxUploadBytes > 0 && int64(len(sample)) > fm.maxUploadBytes {
		return fmt.Errorf("image file exceeds maximum size")
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}

	total := int64(0)

	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	if len(sample) > 0 {
		if _, err := out.Write(sample); err != nil {
			return cleanup(fmt.Errorf("write image sample: %w", err))
		}
		total += int64(len(sample))
	}

	buf := make([]byte, 32*1024)
	for {
		if fm.maxUploadBytes > 0 && total >= fm.maxUploadBytes {
			return cleanup(fmt.Errorf("image file exceeds maximum size"))
		}

		n, err := file.Read(buf)
		if n > 0 {
			total += int64(n)
			if fm.maxUploadBytes > 0 && total > fm.maxUploadBytes {
				return cleanup(fmt.Errorf("image file exceeds maximum size"))
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				return cleanup(fmt.Errorf("write image file: %w", werr))
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return cleanup(fmt.Errorf("read image content: %w", err))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close image file: %w", err)
	}

	return nil
}

func normalizeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ext
	}

	ext = strings.TrimSpace(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func fallbackExtension(contentType string) string {
	if ext, ok := mimeExtensionFallback[contentType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
