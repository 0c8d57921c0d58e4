package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/furisto/parley/backend/model"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FileAttachments resolves uploaded attachments stored as files named by
// their id below a root directory.
type FileAttachments struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

func NewFileAttachments(fs afero.Fs, root string, logger *slog.Logger) *FileAttachments {
	return &FileAttachments{
		fs:     fs,
		root:   root,
		logger: logger,
	}
}

// Images loads the attachments that are images. Ids that do not exist or are
// not images are skipped.
func (a *FileAttachments) Images(ctx context.Context, ids []string) ([]model.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var images []model.Image
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid attachment id %q: %w", id, err)
		}

		data, err := afero.ReadFile(a.fs, path.Join(a.root, id))
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.WarnContext(ctx, "attachment not found", "attachment_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", id, err)
		}

		mimeType := http.DetectContentType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			continue
		}

		images = append(images, model.Image{MimeType: mimeType, Data: data})
	}

	return images, nil
}
