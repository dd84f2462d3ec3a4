package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	"github.com/darpa-sail-on/docsearch/pkg/postgres"
)

var historySchema = []string{
	`CREATE TABLE IF NOT EXISTS index_builds (
		id         BIGSERIAL PRIMARY KEY,
		project    TEXT        NOT NULL,
		checksum   TEXT        NOT NULL,
		documents  INTEGER     NOT NULL,
		objects    INTEGER     NOT NULL,
		terms      INTEGER     NOT NULL,
		titleterms INTEGER     NOT NULL,
		loaded_at  TIMESTAMPTZ NOT NULL,
		payload    JSONB       NOT NULL,
		UNIQUE (project, checksum)
	)`,
	`CREATE INDEX IF NOT EXISTS index_builds_project_loaded_at
		ON index_builds (project, loaded_at DESC)`,
}

// Build is one recorded index build.
type Build struct {
	Project  string            `json:"project"`
	Checksum string            `json:"checksum"`
	Stats    searchindex.Stats `json:"stats"`
	LoadedAt time.Time         `json:"loaded_at"`
}

// History keeps every distinct build each project has served.
type History struct {
	pg     *postgres.Client
	logger *slog.Logger
}

func NewHistory(pg *postgres.Client) *History {
	return &History{pg: pg, logger: slog.Default().With("component", "build-history")}
}

// Migrate creates the index_builds table.
func (h *History) Migrate(ctx context.Context) error {
	return h.pg.Migrate(ctx, "index_builds", historySchema...)
}

// Record stores a build. Recording the same checksum twice is a no-op.
func (h *History) Record(ctx context.Context, project, checksum string, idx *searchindex.Index, at time.Time) error {
	var payload bytes.Buffer
	if err := searchindex.EncodeJSON(&payload, idx, false); err != nil {
		return err
	}
	st := idx.Stats()
	_, err := h.pg.DB.ExecContext(ctx,
		`INSERT INTO index_builds
			(project, checksum, documents, objects, terms, titleterms, loaded_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project, checksum) DO NOTHING`,
		project, checksum, st.Documents, st.Objects, st.Terms, st.TitleTerms, at.UTC(), string(bytes.TrimSpace(payload.Bytes())),
	)
	if err != nil {
		return fmt.Errorf("recording build %s/%s: %w", project, checksum, err)
	}
	return nil
}

// List returns the most recent builds, newest first. An empty project lists
// every project.
func (h *History) List(ctx context.Context, project string, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.pg.DB.QueryContext(ctx,
		`SELECT project, checksum, documents, objects, terms, titleterms, loaded_at
		   FROM index_builds
		  WHERE $1 = '' OR project = $1
		  ORDER BY loaded_at DESC, id DESC
		  LIMIT $2`,
		project, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	builds := make([]Build, 0, limit)
	for rows.Next() {
		var b Build
		if err := rows.Scan(&b.Project, &b.Checksum, &b.Stats.Documents, &b.Stats.Objects,
			&b.Stats.Terms, &b.Stats.TitleTerms, &b.LoadedAt); err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build rows: %w", err)
	}
	return builds, nil
}

// Load returns the stored payload of a build.
func (h *History) Load(ctx context.Context, project, checksum string) (*searchindex.Index, error) {
	var payload []byte
	err := h.pg.DB.QueryRowContext(ctx,
		`SELECT payload FROM index_builds WHERE project = $1 AND checksum = $2`,
		project, checksum,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("loading build %s/%s: %w", project, checksum, err)
	}
	return searchindex.DecodeBytes(payload)
}

// Hook records every swapped build. Failures are logged; history is never
// allowed to block serving.
func (h *History) Hook() ReloadHook {
	return func(ctx context.Context, ev ReloadEvent) {
		if ev.Status != StatusSwapped || ev.Index == nil {
			return
		}
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := h.Record(recCtx, ev.Project, ev.Checksum, ev.Index, ev.At); err != nil {
			h.logger.Warn("failed to record build", "project", ev.Project, "error", err)
		}
	}
}
