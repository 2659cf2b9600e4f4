package ingest

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/audit"
	"github.com/gofhir/phigate/record"
)

// Audited wraps src so that each iteration emits ingestion_start and then
// ingestion_complete, or ingestion_error when the source failed. Per-record
// errors are counted, not emitted individually. Metadata of a Describer
// source is added to ingestion_complete.
func Audited(src Source, pub audit.Publisher, actor string) Source {
	if pub == nil {
		return src
	}
	return &auditedSource{Source: src, pub: pub, actor: actor}
}

type auditedSource struct {
	Source
	pub   audit.Publisher
	actor string
}

func (a *auditedSource) Kind() string { return KindOf(a.Source) }

func (a *auditedSource) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		a.emit(audit.EventIngestionStart, audit.StatusStarted, nil)

		records, rejected := 0, 0
		var fatal error
		stopped := false
		for rec, err := range a.Source.Records(ctx) {
			switch {
			case err == nil:
				records++
			case IsRecordError(err):
				rejected++
			default:
				fatal = err
			}
			if !yield(rec, err) {
				stopped = true
				break
			}
		}

		details := map[string]any{
			"records":  records,
			"rejected": rejected,
		}
		if stopped {
			details["stopped"] = true
		}
		if fatal != nil {
			// Redaction keeps values from parse errors out of the trail.
			details["error"] = errors.Redact(fatal)
			a.emit(audit.EventIngestionError, audit.StatusError, details)
			return
		}
		if d, ok := a.Source.(Describer); ok {
			for k, v := range d.Metadata() {
				if _, taken := details[k]; !taken {
					details[k] = v
				}
			}
		}
		status := audit.StatusSuccess
		if rejected > 0 {
			status = audit.StatusWarning
		}
		a.emit(audit.EventIngestionComplete, status, details)
	}
}

func (a *auditedSource) emit(t audit.EventType, status string, details map[string]any) {
	a.pub.Emit(audit.Event{
		EventType:  t,
		SourceType: KindOf(a.Source),
		SourcePath: a.Name(),
		Actor:      a.actor,
		Status:     status,
		Details:    details,
	})
}
