package activity

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repo "github.com/brandvault/dam-backend/internal/data/repos/activity"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// Entry is one activity event emitted by a state-transition method.
type Entry struct {
	TenantID    uuid.UUID
	SubjectKind types.SubjectKind
	SubjectID   uuid.UUID
	ActorKind   types.ActorKind
	ActorID     *uuid.UUID
	Event       string
	Data        map[string]any
}

// Writer records activity entries. Implementations must never let a logging
// failure reach the caller: recording is best-effort by contract.
type Writer interface {
	Record(dbc dbctx.Context, e Entry)
}

type writer struct {
	repo repo.ActivityLogRepo
	log  *logger.Logger
}

func NewWriter(r repo.ActivityLogRepo, baseLog *logger.Logger) Writer {
	return &writer{repo: r, log: baseLog.With("component", "ActivityWriter")}
}

func (w *writer) Record(dbc dbctx.Context, e Entry) {
	if w == nil || w.repo == nil || e.SubjectID == uuid.Nil {
		return
	}
	actorKind := e.ActorKind
	if actorKind == "" {
		actorKind = types.ActorSystem
	}
	var data datatypes.JSON
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			data = datatypes.JSON(b)
		}
	}
	row := &types.ActivityLog{
		ID:          uuid.New(),
		TenantID:    e.TenantID,
		SubjectKind: e.SubjectKind,
		SubjectID:   e.SubjectID,
		ActorKind:   actorKind,
		ActorID:     e.ActorID,
		Event:       e.Event,
		Data:        data,
	}
	if err := w.repo.Append(dbc, row); err != nil {
		// Swallowed on purpose: activity logging must never abort the
		// operation that produced it.
		w.log.Warn("activity append failed", "event", e.Event, "subject_kind", e.SubjectKind, "error", err)
	}
}

// Nop returns a Writer that discards everything; used in tests and when the
// activity table is not configured.
func Nop() Writer { return nopWriter{} }

type nopWriter struct{}

func (nopWriter) Record(dbctx.Context, Entry) {}
