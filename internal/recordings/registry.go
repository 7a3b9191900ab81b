package recordings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aura-classroom/backend/internal/models"
)

// Registry stores recordings. Implementations must make Transition atomic: only a
// processing record may move to a terminal status, and only once.
type Registry interface {
	Insert(ctx context.Context, rec models.Recording) (models.Recording, error)
	Get(ctx context.Context, id string) (models.Recording, error)
	// List returns the course's recordings ordered by Date desc, then insertion order.
	List(ctx context.Context, courseID string) ([]models.Recording, error)
	// Observe counts one read of a processing record and returns the new total.
	// It returns 0 when the record is no longer processing.
	Observe(ctx context.Context, id string) (int, error)
	// Transition moves a processing record to status. changed is false when the record
	// was already terminal; the current record is returned either way.
	Transition(ctx context.Context, id string, status models.RecordingStatus, reason, artifactKey string, at time.Time) (rec models.Recording, changed bool, err error)
}

type memoryEntry struct {
	rec          models.Recording
	observations int
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu      sync.Mutex
	seq     int64
	entries map[string]*memoryEntry
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*memoryEntry)}
}

func (r *MemoryRegistry) Insert(ctx context.Context, rec models.Recording) (models.Recording, error) {
	if err := ctx.Err(); err != nil {
		return models.Recording{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[rec.ID]; ok {
		return models.Recording{}, &models.ValidationError{Field: "id", Reason: "already exists"}
	}
	r.seq++
	rec.CreatedSeq = r.seq
	r.entries[rec.ID] = &memoryEntry{rec: rec}
	return rec, nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (models.Recording, error) {
	if err := ctx.Err(); err != nil {
		return models.Recording{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return models.Recording{}, models.ErrNotFound
	}
	return e.rec, nil
}

func (r *MemoryRegistry) List(ctx context.Context, courseID string) ([]models.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	list := []models.Recording{}
	for _, e := range r.entries {
		if courseID == "" || e.rec.CourseID == courseID {
			list = append(list, e.rec)
		}
	}
	r.mu.Unlock()
	sortRecordings(list)
	return list, nil
}

func (r *MemoryRegistry) Observe(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	if e.rec.Status != models.RecordingStatusProcessing {
		return 0, nil
	}
	e.observations++
	return e.observations, nil
}

func (r *MemoryRegistry) Transition(ctx context.Context, id string, status models.RecordingStatus, reason, artifactKey string, at time.Time) (models.Recording, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Recording{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return models.Recording{}, false, models.ErrNotFound
	}
	if e.rec.Status != models.RecordingStatusProcessing {
		return e.rec, false, nil
	}
	e.rec.Status = status
	e.rec.FailureReason = reason
	e.rec.ArtifactKey = artifactKey
	e.rec.UpdatedAt = at
	return e.rec, true, nil
}

func sortRecordings(list []models.Recording) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].CreatedSeq < list[j].CreatedSeq
	})
}
