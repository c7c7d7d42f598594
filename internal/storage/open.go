package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedbot/internal/jobs"
	"schedbot/pkg/logx"
)

type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// Recent returns up to limit entries for tenant, newest first. An empty
	// tenant matches every entry.
	Recent(ctx context.Context, tenant string, limit int) ([]AuditEntry, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func stamp(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
}

type dispatchMeta struct {
	Kind       jobs.Kind      `json:"kind"`
	Failures   []jobs.Outcome `json:"failures,omitempty"`
	ContentErr string         `json:"content_error,omitempty"`
}

// DispatchEntry converts a job execution into an audit entry keyed by its
// run id. Only failed outcomes are kept in Meta.
func DispatchEntry(rep jobs.DispatchReport) AuditEntry {
	meta := dispatchMeta{Kind: rep.Kind, ContentErr: rep.ContentErr}
	for _, o := range rep.Outcomes {
		if !o.Delivered {
			meta.Failures = append(meta.Failures, o)
		}
	}
	b, _ := json.Marshal(meta)
	return AuditEntry{
		ID:     rep.RunID,
		At:     rep.StartedAt,
		Tenant: rep.Tenant,
		Actor:  "scheduler",
		Action: "job.dispatch",
		Target: rep.JobID,
		OK:     rep.Delivered(),
		Fail:   rep.Failed(),
		Error:  rep.ContentErr,
		TookMS: rep.Took().Milliseconds(),
		Meta:   string(b),
	}
}
