// Package projects stores projects, their current scene and the bounded
// history of earlier scenes.
//
// A project is persisted as a single record in the projects namespace that
// holds the project metadata, the current scene and the backups together.
// Every mutation is therefore one Put and Remove is one Delete, so readers
// observe either the state before a mutation or the state after it.
//
// The owners namespace holds one key per project, "<owner>.<uid>", so a
// listing only reads the owner's own records. The index entry is written
// before the record and removed after it; an entry without a record is
// skipped.
//
// Ownership is not checked here; callers resolve the session and compare
// Project.OwnerID themselves.
package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/models"
	"github.com/dmitrijs2005/levelstore/internal/server/state"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/google/uuid"
)

// DefaultRetention is the number of backups kept per project.
const DefaultRetention = 20

const (
	maxTitleLen = 200
	maxOwnerLen = 128
)

var idRe = regexp.MustCompile(`^[0-9a-f-]{1,64}$`)

// ValidID reports whether id has the shape of a project id.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

type record struct {
	Project  models.Project  `json:"project"`
	HasScene bool            `json:"has_scene"`
	Scene    json.RawMessage `json:"scene,omitempty"`
	Backups  []models.Backup `json:"backups"`
}

// Snapshot is a complete copy of one project, used for export and import.
type Snapshot struct {
	Project models.Project  `json:"project"`
	Scene   json.RawMessage `json:"scene,omitempty"`
	Backups []models.Backup `json:"backups"`
}

type Options struct {
	// Retention is the maximum number of backups per project.
	Retention int
}

type Service struct {
	st        *state.State
	retention int
	logger    logging.Logger
}

func NewService(st *state.State, opts Options) *Service {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Service{
		st:        st,
		retention: opts.Retention,
		logger:    st.Logger.With("module", "projects"),
	}
}

// Retention returns the backup bound in effect.
func (s *Service) Retention() int { return s.retention }

func lockKey(uid string) string { return "project:" + uid }

func cleanTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	if len([]rune(title)) > maxTitleLen {
		return "", fmt.Errorf("%w: title must be at most %d characters", common.ErrValidation, maxTitleLen)
	}
	return title, nil
}

func (s *Service) load(ctx context.Context, uid string) (*record, error) {
	if !ValidID(uid) {
		return nil, common.ErrorNotFound
	}
	data, err := s.st.Store.Get(ctx, state.NSProjects, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "load project failed", "project_id", uid, "error", err)
		return nil, fmt.Errorf("load project %s: %w", uid, err)
	}
	rec := &record{}
	if err := json.Unmarshal(data, rec); err != nil {
		s.logger.Error(ctx, "decode project failed", "project_id", uid, "error", err)
		return nil, fmt.Errorf("decode project %s: %w", uid, err)
	}
	return rec, nil
}

func (s *Service) save(ctx context.Context, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", rec.Project.ID, err)
	}
	if err := s.st.Store.Put(ctx, state.NSProjects, rec.Project.ID, data); err != nil {
		s.logger.Error(ctx, "store project failed", "project_id", rec.Project.ID, "error", err)
		return fmt.Errorf("store project %s: %w", rec.Project.ID, err)
	}
	return nil
}

func ownerKey(ownerID, uid string) string { return ownerID + "." + uid }

func checkOwner(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner is required", common.ErrValidation)
	}
	if len(ownerID) > maxOwnerLen || storage.ValidateName(ownerID) != nil {
		return fmt.Errorf("%w: invalid owner id", common.ErrValidation)
	}
	return nil
}

// newID picks a project id that is not in use.
func (s *Service) newID(ctx context.Context) (string, error) {
	for {
		id := uuid.NewString()
		_, err := s.st.Store.Get(ctx, state.NSProjects, id)
		if errors.Is(err, storage.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check project id: %w", err)
		}
	}
}

// insert persists a new project: the owner index entry, then the record.
// If the record cannot be written the index entry is taken back.
func (s *Service) insert(ctx context.Context, rec *record) error {
	key := ownerKey(rec.Project.OwnerID, rec.Project.ID)
	if err := s.st.Store.Put(ctx, state.NSOwners, key, []byte(rec.Project.ID)); err != nil {
		s.logger.Error(ctx, "index project failed", "project_id", rec.Project.ID, "error", err)
		return fmt.Errorf("index project %s: %w", rec.Project.ID, err)
	}
	if err := s.save(ctx, rec); err != nil {
		if derr := s.st.Store.Delete(ctx, state.NSOwners, key); derr != nil {
			s.logger.Warn(ctx, "owner index rollback failed", "project_id", rec.Project.ID, "error", derr)
		}
		return err
	}
	return nil
}

// Create allocates a new empty project for ownerID.
func (s *Service) Create(ctx context.Context, ownerID, title string) (*models.Project, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	id, err := s.newID(ctx)
	if err != nil {
		return nil, err
	}
	defer s.st.Locks.Lock(lockKey(id))()

	rec := &record{
		Project: models.Project{
			ID:        id,
			OwnerID:   ownerID,
			Title:     title,
			CreatedAt: s.st.Now(),
		},
		Backups: []models.Backup{},
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "project created", "project_id", id, "owner_id", ownerID)
	p := rec.Project
	return &p, nil
}

// loadMeta reads only the project metadata of a record; scene and backups
// are left undecoded.
func (s *Service) loadMeta(ctx context.Context, uid string) (*models.Project, error) {
	data, err := s.st.Store.Get(ctx, state.NSProjects, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "load project failed", "project_id", uid, "error", err)
		return nil, fmt.Errorf("load project %s: %w", uid, err)
	}
	var meta struct {
		Project models.Project `json:"project"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", uid, err)
	}
	return &meta.Project, nil
}

// ListByOwner returns the owner's projects ordered by creation time, then id.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error) {
	out := []models.Project{}
	if checkOwner(ownerID) != nil {
		return out, nil
	}

	keys, err := s.st.Store.List(ctx, state.NSOwners)
	if err != nil {
		s.logger.Error(ctx, "list projects failed", "error", err)
		return nil, fmt.Errorf("list projects: %w", err)
	}

	prefix := ownerKey(ownerID, "")
	for _, key := range keys {
		uid, found := strings.CutPrefix(key, prefix)
		if !found || !ValidID(uid) {
			continue
		}
		p, err := s.loadMeta(ctx, uid)
		if err != nil {
			// removed, or an index entry whose record was never written
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			return nil, err
		}
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the project or common.ErrorNotFound.
func (s *Service) Get(ctx context.Context, uid string) (*models.Project, error) {
	rec, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &rec.Project, nil
}

// GetScene returns the current scene, or common.ErrorNotFound when the
// project is unknown or has never been saved.
func (s *Service) GetScene(ctx context.Context, uid string) (models.Scene, error) {
	rec, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !rec.HasScene {
		return nil, common.ErrorNotFound
	}
	return rec.Scene, nil
}

// GetBackups returns the history oldest first. Index 0 is the oldest entry.
func (s *Service) GetBackups(ctx context.Context, uid string) ([]models.Backup, error) {
	rec, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if rec.Backups == nil {
		return []models.Backup{}, nil
	}
	return rec.Backups, nil
}

// pushBackup appends snapshot with a timestamp no earlier than the newest
// entry and drops the oldest entries beyond the retention bound.
func (s *Service) pushBackup(rec *record, snapshot json.RawMessage) int {
	ts := s.st.Now()
	if n := len(rec.Backups); n > 0 && ts.Before(rec.Backups[n-1].Timestamp) {
		ts = rec.Backups[n-1].Timestamp
	}
	rec.Backups = append(rec.Backups, models.Backup{Timestamp: ts, Snapshot: snapshot})

	evicted := 0
	if over := len(rec.Backups) - s.retention; over > 0 {
		rec.Backups = append([]models.Backup(nil), rec.Backups[over:]...)
		evicted = over
	}
	backupsEvicted.Add(float64(evicted))
	return evicted
}

// SaveScene replaces the current scene with doc. The previous scene, if
// any, becomes the newest backup.
func (s *Service) SaveScene(ctx context.Context, uid string, doc []byte) error {
	if !json.Valid(doc) {
		return fmt.Errorf("%w: scene is not valid JSON", common.ErrValidation)
	}
	if !ValidID(uid) {
		return common.ErrorNotFound
	}

	ctx = context.WithoutCancel(ctx)
	defer s.st.Locks.Lock(lockKey(uid))()

	rec, err := s.load(ctx, uid)
	if err != nil {
		return err
	}

	evicted := 0
	if rec.HasScene {
		evicted = s.pushBackup(rec, rec.Scene)
	}
	rec.Scene = append(json.RawMessage(nil), doc...)
	rec.HasScene = true

	if err := s.save(ctx, rec); err != nil {
		return err
	}

	sceneSaves.Inc()
	s.logger.Debug(ctx, "scene saved", "project_id", uid, "backups", len(rec.Backups), "evicted", evicted)
	return nil
}

// RevertToBackup makes backups[index] the current scene and returns it. The
// scene it replaces is appended as a backup first. An index outside the
// history yields common.ErrorNotFound and changes nothing.
func (s *Service) RevertToBackup(ctx context.Context, uid string, index int) (models.Scene, error) {
	if !ValidID(uid) {
		return nil, common.ErrorNotFound
	}

	ctx = context.WithoutCancel(ctx)
	defer s.st.Locks.Lock(lockKey(uid))()

	rec, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(rec.Backups) {
		return nil, common.ErrorNotFound
	}

	// taken before pushBackup can evict it
	restored := rec.Backups[index].Snapshot

	if rec.HasScene {
		s.pushBackup(rec, rec.Scene)
	}
	rec.Scene = restored
	rec.HasScene = true

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}

	sceneReverts.Inc()
	s.logger.Info(ctx, "scene reverted", "project_id", uid, "index", index, "backups", len(rec.Backups))
	return restored, nil
}

// Rename changes the project title.
func (s *Service) Rename(ctx context.Context, uid, title string) (*models.Project, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return nil, err
	}
	if !ValidID(uid) {
		return nil, common.ErrorNotFound
	}

	ctx = context.WithoutCancel(ctx)
	defer s.st.Locks.Lock(lockKey(uid))()

	rec, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	rec.Project.Title = title
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return &rec.Project, nil
}

// Remove deletes the project with its scene and backups. Removing an unknown
// project is not an error.
func (s *Service) Remove(ctx context.Context, uid string) error {
	if !ValidID(uid) {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	defer s.st.Locks.Lock(lockKey(uid))()

	p, err := s.loadMeta(ctx, uid)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.st.Store.Delete(ctx, state.NSProjects, uid); err != nil {
		s.logger.Error(ctx, "remove project failed", "project_id", uid, "error", err)
		return fmt.Errorf("remove project %s: %w", uid, err)
	}
	if err := s.st.Store.Delete(ctx, state.NSOwners, ownerKey(p.OwnerID, uid)); err != nil {
		// a stale index entry is skipped by ListByOwner
		s.logger.Warn(ctx, "remove owner index failed", "project_id", uid, "error", err)
	}
	s.logger.Info(ctx, "project removed", "project_id", uid)
	return nil
}

// Export returns a full copy of the project.
func (s *Service) Export(ctx context.Context, uid string) (*Snapshot, error) {
	rec, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Project: rec.Project, Backups: rec.Backups}
	if rec.HasScene {
		snap.Scene = rec.Scene
	}
	if snap.Backups == nil {
		snap.Backups = []models.Backup{}
	}
	return snap, nil
}

// Import stores snap as a new project of ownerID in a single write. The
// project gets a fresh id; the title, scene and backup history are kept.
// Only the newest backups within the retention bound survive, and backup
// timestamps later than now are clamped to now.
func (s *Service) Import(ctx context.Context, ownerID string, snap *Snapshot) (*models.Project, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: empty snapshot", common.ErrValidation)
	}
	title, err := cleanTitle(snap.Project.Title)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	if len(snap.Scene) > 0 && !json.Valid(snap.Scene) {
		return nil, fmt.Errorf("%w: scene is not valid JSON", common.ErrValidation)
	}
	var last time.Time
	for i, b := range snap.Backups {
		if !json.Valid(b.Snapshot) {
			return nil, fmt.Errorf("%w: backup %d is not valid JSON", common.ErrValidation, i)
		}
		if b.Timestamp.Before(last) {
			return nil, fmt.Errorf("%w: backup %d is out of order", common.ErrValidation, i)
		}
		last = b.Timestamp
	}

	ctx = context.WithoutCancel(ctx)

	id, err := s.newID(ctx)
	if err != nil {
		return nil, err
	}
	defer s.st.Locks.Lock(lockKey(id))()

	now := s.st.Now()
	backups := snap.Backups
	if over := len(backups) - s.retention; over > 0 {
		backups = backups[over:]
	}
	kept := make([]models.Backup, len(backups))
	for i, b := range backups {
		if b.Timestamp.After(now) {
			b.Timestamp = now
		}
		kept[i] = b
	}

	rec := &record{
		Project: models.Project{
			ID:        id,
			OwnerID:   ownerID,
			Title:     title,
			CreatedAt: now,
		},
		HasScene: len(snap.Scene) > 0,
		Scene:    snap.Scene,
		Backups:  kept,
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "project imported", "project_id", id, "owner_id", ownerID, "backups", len(kept))
	p := rec.Project
	return &p, nil
}
