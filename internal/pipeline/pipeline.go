// Package pipeline implements the versioned image preparation chain. Every
// step produces an immutable, content-addressed version from its parent;
// repeating a step with identical inputs returns the existing version
// without recomputation.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/metrics"
	"studio/internal/storage"
)

// Editor performs the provider-backed transformations (background removal,
// face enhancement). Crop and upscale run locally.
type Editor interface {
	Edit(ctx context.Context, data []byte, mime string, kind string) ([]byte, string, error)
}

// Pipeline coordinates steps, memoization and session history.
type Pipeline struct {
	versions domain.VersionRepository
	sessions domain.SessionRepository
	blobs    storage.BlobStore
	editor   Editor
	logger   infra.Logger
}

func New(versions domain.VersionRepository, sessions domain.SessionRepository, blobs storage.BlobStore, editor Editor, logger infra.Logger) *Pipeline {
	return &Pipeline{versions: versions, sessions: sessions, blobs: blobs, editor: editor, logger: logger}
}

// CreateRoot stores an uploaded image and opens a session whose history
// starts at the resulting root version.
func (p *Pipeline) CreateRoot(ctx context.Context, userID string, data []byte, mime string) (*domain.Session, *domain.Version, error) {
	ref, err := p.blobs.Put(ctx, data, mime)
	if err != nil {
		return nil, nil, err
	}
	width, height := dimensions(data)

	session := &domain.Session{
		ID:     uuid.NewString(),
		UserID: userID,
	}
	version := &domain.Version{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		ContentHash: ref.Hash,
		StorageKey:  ref.Key,
		Kind:        "upload",
		ParamsJSON:  []byte("{}"),
		Label:       "Original upload",
		MIME:        mime,
		Width:       width,
		Height:      height,
		Bytes:       ref.Bytes,
	}
	session.VersionIDs = []string{version.ID}
	session.ActiveIndex = 0

	if err := p.sessions.Create(ctx, session); err != nil {
		return nil, nil, err
	}
	if err := p.versions.Insert(ctx, version); err != nil {
		return nil, nil, err
	}
	return session, version, nil
}

// Apply runs one preparation step against parentVersionID, or against the
// session's active version when the id is empty. The composite key
// (parent hash, kind, normalized params) is checked first; on a hit the
// existing version is returned and only the active pointer moves, which is
// what makes duplicate user actions and retried requests harmless. A failed
// step leaves both the version tree and the pointer untouched.
func (p *Pipeline) Apply(ctx context.Context, sessionID, parentVersionID string, kind StepKind, params Params) (*domain.Version, error) {
	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if parentVersionID == "" {
		parentVersionID = session.ActiveVersionID()
	}
	parent, err := p.versions.GetByID(ctx, parentVersionID)
	if err != nil {
		return nil, err
	}

	normalized, err := NormalizeParams(kind, params, parent.Width, parent.Height)
	if err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(kind, normalized)

	memo, err := p.versions.FindByMemoKey(ctx, parent.ContentHash, string(kind), fingerprint)
	switch {
	case err == nil:
		metrics.PipelineSteps.WithLabelValues(string(kind), "hit").Inc()
		if err := p.activate(ctx, session, memo.ID); err != nil {
			return nil, err
		}
		return memo, nil
	case errors.Is(err, domain.ErrNotFound):
		// first application of this step, compute below
	default:
		return nil, err
	}

	data, err := p.blobs.Get(ctx, parent.StorageKey)
	if err != nil {
		return nil, err
	}

	transformed, mime, width, height, err := p.transform(ctx, kind, normalized, data, parent.MIME)
	if err != nil {
		return nil, err
	}

	ref, err := p.blobs.Put(ctx, transformed, mime)
	if err != nil {
		return nil, err
	}

	version := &domain.Version{
		ID:                uuid.NewString(),
		ParentID:          parent.ID,
		SessionID:         session.ID,
		ContentHash:       ref.Hash,
		StorageKey:        ref.Key,
		Kind:              string(kind),
		ParamsJSON:        MarshalParams(normalized),
		ParamsFingerprint: fingerprint,
		Label:             label(kind, normalized),
		MIME:              mime,
		Width:             width,
		Height:            height,
		Bytes:             ref.Bytes,
	}
	if err := p.versions.Insert(ctx, version); err != nil {
		return nil, err
	}
	if err := p.sessions.Append(ctx, session.ID, version.ID); err != nil {
		return nil, err
	}
	metrics.PipelineSteps.WithLabelValues(string(kind), "miss").Inc()
	p.logger.Info().
		Str("session_id", session.ID).
		Str("version_id", version.ID).
		Str("kind", string(kind)).
		Msg("pipeline: step applied")
	return version, nil
}

// Undo moves the active pointer one entry back and returns the version it
// now addresses.
func (p *Pipeline) Undo(ctx context.Context, sessionID string) (*domain.Version, error) {
	return p.move(ctx, sessionID, -1)
}

// Redo moves the active pointer one entry forward.
func (p *Pipeline) Redo(ctx context.Context, sessionID string) (*domain.Version, error) {
	return p.move(ctx, sessionID, +1)
}

// ActiveVersion resolves the version the session pointer currently addresses.
func (p *Pipeline) ActiveVersion(ctx context.Context, sessionID string) (*domain.Version, error) {
	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return p.versions.GetByID(ctx, session.ActiveVersionID())
}

func (p *Pipeline) move(ctx context.Context, sessionID string, delta int) (*domain.Version, error) {
	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	target := session.ActiveIndex + delta
	if target < 0 || target >= len(session.VersionIDs) {
		return nil, domain.ErrHistoryBoundary
	}
	if err := p.sessions.SetActiveIndex(ctx, sessionID, target); err != nil {
		return nil, err
	}
	return p.versions.GetByID(ctx, session.VersionIDs[target])
}

// activate points the session at an existing version, appending it to the
// history when the memoized version came from another session.
func (p *Pipeline) activate(ctx context.Context, session *domain.Session, versionID string) error {
	for i, id := range session.VersionIDs {
		if id == versionID {
			if i == session.ActiveIndex {
				return nil
			}
			return p.sessions.SetActiveIndex(ctx, session.ID, i)
		}
	}
	return p.sessions.Append(ctx, session.ID, versionID)
}

func (p *Pipeline) transform(ctx context.Context, kind StepKind, params Params, data []byte, parentMIME string) ([]byte, string, int, int, error) {
	switch kind {
	case StepCrop:
		out, w, h, err := cropImage(data, *params.Crop)
		return out, "image/png", w, h, err
	case StepUpscale:
		out, w, h, err := upscaleImage(data)
		return out, "image/png", w, h, err
	case StepBackgroundRemoval, StepFaceEnhance:
		if p.editor == nil {
			return nil, "", 0, 0, fmt.Errorf("pipeline: no editor configured for %s", kind)
		}
		out, mime, err := p.editor.Edit(ctx, data, parentMIME, string(kind))
		if err != nil {
			return nil, "", 0, 0, err
		}
		w, h := dimensions(out)
		return out, mime, w, h, nil
	}
	return nil, "", 0, 0, fmt.Errorf("%w: %q", domain.ErrInvalidStep, kind)
}
