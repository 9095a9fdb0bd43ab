package usecase

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// Document scan fields accepted by the documents dispatcher, in upload order.
const (
	ScanPancard = "pancard"
	ScanAadhar  = "aadhar"
)

var scanLabels = map[string]string{
	ScanPancard: "PAN card",
	ScanAadhar:  "Aadhar card",
}

// DomainDeps are the collaborators the collection hooks need.
type DomainDeps struct {
	Data     *DataAccess
	Uploader *Uploader
	Notifier ports.Notifier
	Now      func() time.Time
}

// DomainConfigs returns the dispatcher configuration of every collection, in
// domain.Collections order.
func DomainConfigs(deps DomainDeps) []DispatcherConfig {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return []DispatcherConfig{
		{Collection: domain.CollectionRents, Label: "Rent"},
		{Collection: domain.CollectionLightBills, Label: "Light bill", Prepare: electricityAmountHook(deps.Data)},
		{Collection: domain.CollectionDeposits, Label: "Deposit"},
		{Collection: domain.CollectionExpenses, Label: "Expense"},
		{
			Collection: domain.CollectionDocuments,
			Label:      "Document",
			Prepare:    documentUploadHook(deps.Uploader, deps.Notifier, deps.Now),
			Cleanup:    staleScanCleanup(deps.Uploader),
		},
	}
}

// electricityAmountHook stores the computed bill amount. A client-sent amount
// is never kept. On update the readings not sent are taken from the stored
// bill; an update that touches neither reading leaves the amount alone.
func electricityAmountHook(data *DataAccess) PrepareFunc {
	return func(ctx context.Context, m Mutation) (domain.Fields, error) {
		fields := m.Data.Clone()
		delete(fields, "amount")
		if m.ID == "" {
			return domain.WithElectricityAmount(fields), nil
		}

		_, hasLast := fields["lastUnit"]
		_, hasCurrent := fields["currentUnit"]
		if !hasLast && !hasCurrent {
			return fields, nil
		}
		view := fields
		if data != nil {
			current, found, err := data.GetByID(ctx, domain.CollectionLightBills, m.ID)
			if err != nil {
				return nil, err
			}
			if found {
				view = current.Merge(domain.Record{Data: fields}).Data
			}
		}
		fields["amount"] = domain.WithElectricityAmount(view)["amount"]
		return fields, nil
	}
}

// documentUploadHook uploads the identity scans and attaches their URLs and
// blob paths. A failed scan is reported and skipped; the record is still
// written. Blob paths are only ever set here, never taken from the client.
func documentUploadHook(uploader *Uploader, notifier ports.Notifier, now func() time.Time) PrepareFunc {
	return func(ctx context.Context, m Mutation) (domain.Fields, error) {
		fields := m.Data.Clone()
		for _, field := range []string{ScanPancard, ScanAadhar} {
			delete(fields, scanPathField(field))
		}
		folder := m.OwnerID
		if m.ID != "" {
			folder = m.ID
		}
		for _, field := range []string{ScanPancard, ScanAadhar} {
			f, ok := findUpload(m.Files, field)
			if !ok {
				continue
			}
			p := ScanPath(folder, field, f.Filename, now())
			url, err := uploader.UploadFile(ctx, f, p)
			if err != nil {
				msg := fmt.Sprintf("%s upload failed", scanLabels[field])
				if m.ID == "" {
					msg += ", but document will be saved"
				}
				if notifier != nil {
					notifier.Notify(ctx, domain.Notification{OwnerID: m.OwnerID, Level: domain.NotifyError, Message: msg, At: now().UTC()})
				}
				continue
			}
			fields[field+"Url"] = url
			fields[scanPathField(field)] = p
		}
		return fields, nil
	}
}

// staleScanCleanup removes the blobs of scans that an update replaced or
// whose document was deleted. Removal failures are logged and otherwise
// ignored. Only paths inside the document's own folders are touched.
func staleScanCleanup(uploader *Uploader) CleanupFunc {
	return func(ctx context.Context, before domain.Record, written domain.Fields) {
		if uploader == nil {
			return
		}
		for _, field := range []string{ScanPancard, ScanAadhar} {
			old := before.Data.String(scanPathField(field))
			if old == "" || !ownScanPath(before, old) {
				continue
			}
			if written != nil {
				replacement := written.String(scanPathField(field))
				if replacement == "" || replacement == old {
					continue
				}
			}
			if err := uploader.DeleteFile(ctx, old); err != nil {
				uploader.logger.Warn("stale scan not removed", zap.String("path", old), zap.Error(err))
			}
		}
	}
}

func scanPathField(field string) string { return field + "Path" }

// ownScanPath reports whether p lies in one of the folders documentUploadHook
// writes for rec: the owner's folder on add, the record's folder on update.
func ownScanPath(rec domain.Record, p string) bool {
	for _, folder := range []string{rec.OwnerID, rec.ID} {
		if folder != "" && strings.HasPrefix(p, "documents/"+folder+"/") && !strings.Contains(p, "..") {
			return true
		}
	}
	return false
}

// ScanPath is documents/<folder>/<field>_<unix millis>_<original name>.
func ScanPath(folder, field, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "file"
	}
	return fmt.Sprintf("documents/%s/%s_%d_%s", folder, field, at.UnixMilli(), name)
}

func findUpload(files []Upload, field string) (Upload, bool) {
	for _, f := range files {
		if f.Field == field {
			return f, true
		}
	}
	return Upload{}, false
}
