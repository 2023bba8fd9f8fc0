package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/storage"
)

type memVersions struct {
	byID   map[string]*domain.Version
	hashes map[string]string // version id -> content hash, for memo keys
}

func newMemVersions() *memVersions {
	return &memVersions{byID: map[string]*domain.Version{}, hashes: map[string]string{}}
}

func (m *memVersions) Insert(_ context.Context, v *domain.Version) error {
	copied := *v
	m.byID[v.ID] = &copied
	m.hashes[v.ID] = v.ContentHash
	return nil
}

func (m *memVersions) GetByID(_ context.Context, id string) (*domain.Version, error) {
	v, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (m *memVersions) FindByMemoKey(_ context.Context, parentHash, kind, fingerprint string) (*domain.Version, error) {
	for _, v := range m.byID {
		if v.ParentID == "" {
			continue
		}
		if m.hashes[v.ParentID] == parentHash && v.Kind == kind && v.ParamsFingerprint == fingerprint {
			copied := *v
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memSessions struct {
	byID map[string]*domain.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: map[string]*domain.Session{}}
}

func (m *memSessions) Create(_ context.Context, s *domain.Session) error {
	copied := *s
	copied.VersionIDs = append([]string(nil), s.VersionIDs...)
	m.byID[s.ID] = &copied
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *s
	copied.VersionIDs = append([]string(nil), s.VersionIDs...)
	return &copied, nil
}

func (m *memSessions) Append(_ context.Context, sessionID, versionID string) error {
	s, ok := m.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.VersionIDs = append(s.VersionIDs, versionID)
	s.ActiveIndex = len(s.VersionIDs) - 1
	return nil
}

func (m *memSessions) SetActiveIndex(_ context.Context, sessionID string, index int) error {
	s, ok := m.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.ActiveIndex = index
	return nil
}

type stubEditor struct {
	out  []byte
	mime string
	err  error
}

func (e *stubEditor) Edit(_ context.Context, _ []byte, _ string, _ string) ([]byte, string, error) {
	if e.err != nil {
		return nil, "", e.err
	}
	return e.out, e.mime, nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, editor Editor) (*Pipeline, *memVersions, *memSessions, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	versions := newMemVersions()
	sessions := newMemSessions()
	logger := infra.NewLogger("test")
	return New(versions, sessions, store, editor, logger), versions, sessions, store
}

func TestCreateRootOpensSession(t *testing.T) {
	p, versions, sessions, _ := newTestPipeline(t, nil)
	data := testPNG(t, 8, 8)

	session, root, err := p.CreateRoot(context.Background(), "user-1", data, "image/png")
	if err != nil {
		t.Fatalf("CreateRoot error: %v", err)
	}
	if root.ParentID != "" {
		t.Fatal("root version must have no parent")
	}
	if root.Width != 8 || root.Height != 8 {
		t.Fatalf("expected 8x8 dimensions, got %dx%d", root.Width, root.Height)
	}
	stored, err := sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if stored.ActiveVersionID() != root.ID {
		t.Fatal("session must point at the root version")
	}
	if _, err := versions.GetByID(context.Background(), root.ID); err != nil {
		t.Fatalf("root version not persisted: %v", err)
	}
}

func TestCropIsMemoized(t *testing.T) {
	p, versions, _, _ := newTestPipeline(t, nil)
	session, root, err := p.CreateRoot(context.Background(), "user-1", testPNG(t, 8, 8), "image/png")
	if err != nil {
		t.Fatalf("CreateRoot error: %v", err)
	}
	params := Params{Crop: &CropRect{X: 1, Y: 1, Width: 4, Height: 4}}

	first, err := p.Apply(context.Background(), session.ID, root.ID, StepCrop, params)
	if err != nil {
		t.Fatalf("first Apply error: %v", err)
	}
	before := len(versions.byID)

	second, err := p.Apply(context.Background(), session.ID, root.ID, StepCrop, params)
	if err != nil {
		t.Fatalf("second Apply error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected memoized version, got %s and %s", first.ID, second.ID)
	}
	if len(versions.byID) != before {
		t.Fatal("second application must not create a new version")
	}
	if first.Width != 4 || first.Height != 4 {
		t.Fatalf("expected 4x4 crop, got %dx%d", first.Width, first.Height)
	}
}

func TestCropClampEquivalence(t *testing.T) {
	// A rectangle reaching past the parent bounds normalizes to the same
	// fingerprint as its clamped equivalent.
	a, err := NormalizeParams(StepCrop, Params{Crop: &CropRect{X: 4, Y: 4, Width: 100, Height: 100}}, 8, 8)
	if err != nil {
		t.Fatalf("NormalizeParams error: %v", err)
	}
	b, err := NormalizeParams(StepCrop, Params{Crop: &CropRect{X: 4, Y: 4, Width: 4, Height: 4}}, 8, 8)
	if err != nil {
		t.Fatalf("NormalizeParams error: %v", err)
	}
	if Fingerprint(StepCrop, a) != Fingerprint(StepCrop, b) {
		t.Fatal("clamped rectangles must fingerprint identically")
	}
}

func TestNormalizeRejectsInvalidSteps(t *testing.T) {
	if _, err := NormalizeParams("sharpen", Params{}, 8, 8); !errors.Is(err, domain.ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
	if _, err := NormalizeParams(StepCrop, Params{}, 8, 8); !errors.Is(err, domain.ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep for missing rect, got %v", err)
	}
	if _, err := NormalizeParams(StepUpscale, Params{Crop: &CropRect{Width: 1, Height: 1}}, 8, 8); !errors.Is(err, domain.ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep for stray params, got %v", err)
	}
}

func TestUpscaleDoublesDimensions(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, nil)
	session, _, _ := p.CreateRoot(context.Background(), "user-1", testPNG(t, 8, 8), "image/png")

	v, err := p.Apply(context.Background(), session.ID, "", StepUpscale, Params{})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if v.Width != 16 || v.Height != 16 {
		t.Fatalf("expected 16x16, got %dx%d", v.Width, v.Height)
	}
}

func TestUndoRedoArePointerMoves(t *testing.T) {
	p, _, sessions, _ := newTestPipeline(t, nil)
	session, root, _ := p.CreateRoot(context.Background(), "user-1", testPNG(t, 8, 8), "image/png")
	cropped, err := p.Apply(context.Background(), session.ID, "", StepCrop, Params{Crop: &CropRect{Width: 4, Height: 4}})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	back, err := p.Undo(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Undo error: %v", err)
	}
	if back.ID != root.ID {
		t.Fatal("undo must return to the root version")
	}

	forward, err := p.Redo(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Redo error: %v", err)
	}
	if forward.ID != cropped.ID {
		t.Fatal("redo must return to the cropped version")
	}

	// History is never rewritten by pointer moves.
	s, _ := sessions.GetByID(context.Background(), session.ID)
	if len(s.VersionIDs) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(s.VersionIDs))
	}

	if _, err := p.Redo(context.Background(), session.ID); !errors.Is(err, domain.ErrHistoryBoundary) {
		t.Fatalf("expected ErrHistoryBoundary, got %v", err)
	}
}

func TestFailedStepLeavesStateUntouched(t *testing.T) {
	editor := &stubEditor{err: errors.New("provider down")}
	p, versions, sessions, _ := newTestPipeline(t, editor)
	session, root, _ := p.CreateRoot(context.Background(), "user-1", testPNG(t, 8, 8), "image/png")
	before := len(versions.byID)

	_, err := p.Apply(context.Background(), session.ID, "", StepBackgroundRemoval, Params{})
	if err == nil {
		t.Fatal("expected step failure")
	}
	if len(versions.byID) != before {
		t.Fatal("failed step must not write a version")
	}
	s, _ := sessions.GetByID(context.Background(), session.ID)
	if s.ActiveVersionID() != root.ID {
		t.Fatal("failed step must not move the active pointer")
	}
}

func TestRemoteStepUsesEditor(t *testing.T) {
	edited := testPNG(t, 6, 6)
	editor := &stubEditor{out: edited, mime: "image/png"}
	p, _, _, store := newTestPipeline(t, editor)
	session, _, _ := p.CreateRoot(context.Background(), "user-1", testPNG(t, 8, 8), "image/png")

	v, err := p.Apply(context.Background(), session.ID, "", StepBackgroundRemoval, Params{})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if v.Width != 6 || v.Height != 6 {
		t.Fatalf("expected editor output dimensions, got %dx%d", v.Width, v.Height)
	}
	data, err := store.Get(context.Background(), v.StorageKey)
	if err != nil {
		t.Fatalf("stored blob missing: %v", err)
	}
	if !bytes.Equal(data, edited) {
		t.Fatal("stored blob must match editor output")
	}
}
