package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fablewright/fable/internal/home"
	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

// Service renders completed stories from the store into the exports
// directory.
type Service struct {
	store  store.Store
	home   *home.Dir
	logger *slog.Logger
}

// NewService wires an export service.
func NewService(st store.Store, dir *home.Dir, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, home: dir, logger: logger}
}

// Export renders the story as an EPUB under the exports directory and
// returns the written path. Only completed stories export; a partial book
// is a reading experience nobody asked for.
func (s *Service) Export(ctx context.Context, storyID string) (string, error) {
	st, err := s.store.LoadStory(ctx, storyID)
	if err != nil {
		return "", fmt.Errorf("failed to load story: %w", err)
	}
	if st.Status != story.StatusCompleted {
		return "", fmt.Errorf("story is not finished (status %s, step %s)",
			st.Status, st.Progress.CurrentStep)
	}

	rows, err := s.store.LoadChapters(ctx, storyID)
	if err != nil {
		return "", fmt.Errorf("failed to load chapters: %w", err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("story has no chapters")
	}

	chapters := make([]Chapter, 0, len(rows))
	for _, ch := range rows {
		chapters = append(chapters, Chapter{
			Number: ch.Number,
			Title:  ch.Title,
			Text:   ch.Text,
		})
	}

	if err := s.home.EnsureExportsDir(); err != nil {
		return "", fmt.Errorf("failed to prepare exports directory: %w", err)
	}
	path := s.home.ExportPath(st.ID, "epub")
	if err := NewBuilder(FromStory(st), chapters).Build(path); err != nil {
		return "", fmt.Errorf("failed to build epub: %w", err)
	}

	s.logger.Info("story exported",
		"story_id", st.ID, "title", st.Title, "chapters", len(chapters), "path", path)
	return path, nil
}
