package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
	"github.com/atvirokodosprendimai/rentdesk/internal/state"
)

// Mutation is what a PrepareFunc sees and may rewrite before the write.
type Mutation struct {
	OwnerID string
	// ID is empty on add.
	ID    string
	Data  domain.Fields
	Files []Upload
}

// PrepareFunc transforms a payload before it is persisted. Errors abort the
// call; per-file problems that should not abort are reported through the
// notifier by the hook itself.
type PrepareFunc func(ctx context.Context, m Mutation) (domain.Fields, error)

// CleanupFunc runs after an update or delete has been written. before is the
// stored record as it was; written holds the fields that were saved and is
// nil on delete. Cleanup cannot fail the call.
type CleanupFunc func(ctx context.Context, before domain.Record, written domain.Fields)

// DispatcherConfig describes one collection's dispatcher.
type DispatcherConfig struct {
	Collection string
	// Label is the human name used in notifications, e.g. "Light bill".
	Label   string
	Prepare PrepareFunc
	Cleanup CleanupFunc
}

// Dispatcher runs the user-facing actions of one collection for one owner:
// call the data layer, update the state slice on success, and notify either
// way.
type Dispatcher struct {
	cfg      DispatcherConfig
	ownerID  string
	data     *DataAccess
	list     *state.List
	notifier ports.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, ownerID string, data *DataAccess, list *state.List, notifier ports.Notifier, logger *zap.Logger) *Dispatcher {
	if cfg.Label == "" {
		cfg.Label = cfg.Collection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		ownerID:  ownerID,
		data:     data,
		list:     list,
		notifier: notifier,
		logger:   logger.With(zap.String("collection", cfg.Collection), zap.String("owner", ownerID)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Collection() string { return d.cfg.Collection }

// Get reloads the owner's list into state.
func (d *Dispatcher) Get(ctx context.Context) ([]domain.Record, error) {
	d.list.SetLoading()
	recs, err := d.data.GetAll(ctx, d.cfg.Collection, d.ownerID)
	if err != nil {
		msg := fmt.Sprintf("Error fetching %s", d.plural())
		d.list.Fail(msg)
		d.fail(ctx, msg, err)
		return nil, err
	}
	d.list.Replace(recs)
	return recs, nil
}

// Find returns one record of this owner from the data layer.
func (d *Dispatcher) Find(ctx context.Context, id string) (domain.Record, bool, error) {
	rec, found, err := d.data.GetByID(ctx, d.cfg.Collection, id)
	if err != nil || !found {
		return domain.Record{}, false, err
	}
	if rec.OwnerID != d.ownerID {
		return domain.Record{}, false, nil
	}
	return rec, true, nil
}

func (d *Dispatcher) Add(ctx context.Context, data domain.Fields, files []Upload) (domain.Record, error) {
	body, err := d.prepare(ctx, Mutation{OwnerID: d.ownerID, Data: data, Files: files})
	if err != nil {
		d.fail(ctx, fmt.Sprintf("Error adding %s", d.lower()), err)
		return domain.Record{}, err
	}
	rec, err := d.data.Add(ctx, d.cfg.Collection, body, d.ownerID, d.meta(ctx))
	if err != nil {
		d.fail(ctx, fmt.Sprintf("Error adding %s", d.lower()), err)
		return domain.Record{}, err
	}
	d.list.Insert(rec)
	d.notify(ctx, domain.NotifySuccess, fmt.Sprintf("%s added successfully", d.cfg.Label))
	return rec, nil
}

// Update applies a partial update. The returned record carries only the
// fields that were sent plus id and updatedAt.
func (d *Dispatcher) Update(ctx context.Context, id string, data domain.Fields, files []Upload) (domain.Record, error) {
	before, err := d.ensureOwned(ctx, "update", id)
	if err != nil {
		d.fail(ctx, fmt.Sprintf("Error updating %s", d.lower()), err)
		return domain.Record{}, err
	}
	body, err := d.prepare(ctx, Mutation{OwnerID: d.ownerID, ID: id, Data: data, Files: files})
	if err != nil {
		d.fail(ctx, fmt.Sprintf("Error updating %s", d.lower()), err)
		return domain.Record{}, err
	}
	rec, err := d.data.Update(ctx, d.cfg.Collection, id, body, d.meta(ctx))
	if err != nil {
		d.fail(ctx, fmt.Sprintf("Error updating %s", d.lower()), err)
		return domain.Record{}, err
	}
	d.list.Merge(rec)
	d.cleanup(ctx, before, body)
	d.notify(ctx, domain.NotifySuccess, fmt.Sprintf("%s updated successfully", d.cfg.Label))
	return rec, nil
}

// BatchUpdate applies several partial updates in order. Every item is checked
// and prepared before anything is written, so one foreign or missing id
// rejects the whole batch. A store failure part way through keeps the items
// already written; those are returned and merged into state.
func (d *Dispatcher) BatchUpdate(ctx context.Context, items []BatchUpdateItem) ([]domain.Record, error) {
	if len(items) == 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("Error updating %s", d.plural())
	prepared := make([]BatchUpdateItem, len(items))
	befores := make([]domain.Record, len(items))
	for i, item := range items {
		before, err := d.ensureOwned(ctx, "update", item.ID)
		if err != nil {
			d.fail(ctx, msg, err)
			return nil, err
		}
		body, err := d.prepare(ctx, Mutation{OwnerID: d.ownerID, ID: item.ID, Data: item.Data})
		if err != nil {
			d.fail(ctx, msg, err)
			return nil, err
		}
		prepared[i] = BatchUpdateItem{ID: item.ID, Data: body}
		befores[i] = before
	}

	recs, err := d.data.BatchUpdate(ctx, d.cfg.Collection, prepared, d.meta(ctx))
	for i, rec := range recs {
		d.list.Merge(rec)
		d.cleanup(ctx, befores[i], prepared[i].Data)
	}
	if err != nil {
		d.fail(ctx, msg, err)
		return recs, err
	}
	d.notify(ctx, domain.NotifySuccess, fmt.Sprintf("%d %s updated successfully", len(recs), d.plural()))
	return recs, nil
}

// Delete removes the record. Deleting an id that no longer exists succeeds.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	rec, found, err := d.data.GetByID(ctx, d.cfg.Collection, id)
	if err != nil {
		d.fail(ctx, fmt.Sprintf("Error deleting %s", d.lower()), err)
		return err
	}
	// Another owner's record is reported as already gone and left alone.
	if !found || rec.OwnerID == d.ownerID {
		if _, err := d.data.Delete(ctx, d.cfg.Collection, id, d.meta(ctx)); err != nil {
			d.fail(ctx, fmt.Sprintf("Error deleting %s", d.lower()), err)
			return err
		}
		if found {
			d.cleanup(ctx, rec, nil)
		}
	}
	d.list.Remove(id)
	d.notify(ctx, domain.NotifySuccess, fmt.Sprintf("%s deleted successfully", d.cfg.Label))
	return nil
}

// ensureOwned refuses writes to records of other owners. Those look exactly
// like missing records to the caller.
func (d *Dispatcher) ensureOwned(ctx context.Context, op, id string) (domain.Record, error) {
	rec, found, err := d.data.GetByID(ctx, d.cfg.Collection, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !found || rec.OwnerID != d.ownerID {
		return domain.Record{}, &domain.WriteError{Op: op, Collection: d.cfg.Collection, ID: id, Err: domain.ErrNotFound}
	}
	return rec, nil
}

func (d *Dispatcher) cleanup(ctx context.Context, before domain.Record, written domain.Fields) {
	if d.cfg.Cleanup != nil {
		d.cfg.Cleanup(ctx, before, written)
	}
}

func (d *Dispatcher) prepare(ctx context.Context, m Mutation) (domain.Fields, error) {
	if m.Data == nil {
		m.Data = domain.Fields{}
	}
	if d.cfg.Prepare == nil {
		return m.Data, nil
	}
	return d.cfg.Prepare(ctx, m)
}

func (d *Dispatcher) meta(ctx context.Context) domain.MutationMetadata {
	meta := MutationMetadataFrom(ctx)
	if meta.Actor == "" {
		meta.Actor = d.ownerID
	}
	return meta
}

func (d *Dispatcher) fail(ctx context.Context, msg string, err error) {
	d.logger.Warn(msg, zap.Error(err))
	d.notify(ctx, domain.NotifyError, fmt.Sprintf("%s: %v", msg, err))
}

func (d *Dispatcher) notify(ctx context.Context, level, msg string) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(ctx, domain.Notification{OwnerID: d.ownerID, Level: level, Message: msg, At: d.now()})
}

func (d *Dispatcher) lower() string {
	return strings.ToLower(d.cfg.Label)
}

func (d *Dispatcher) plural() string {
	return d.lower() + "s"
}

type metadataKey struct{}

// WithMutationMetadata attaches request provenance that dispatchers copy into
// the audit trail.
func WithMutationMetadata(ctx context.Context, meta domain.MutationMetadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, meta)
}

func MutationMetadataFrom(ctx context.Context) domain.MutationMetadata {
	meta, _ := ctx.Value(metadataKey{}).(domain.MutationMetadata)
	return meta
}
