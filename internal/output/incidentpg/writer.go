package incidentpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"responder/internal/logger"
	"responder/pkg/models"
)

// Config configures the Postgres archive writer.
type Config struct {
	DSN   string
	Table string
}

// Writer upserts incident snapshots into a Postgres table, keyed by
// incident id so re-archiving a later snapshot replaces the earlier one.
type Writer struct {
	db    *sql.DB
	table string
}

// NewWriter opens the Postgres archive.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	if cfg.Table == "" {
		cfg.Table = "incidents"
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Infof("Incident Postgres writer initialized: table %s", cfg.Table)
	return &Writer{db: db, table: pq.QuoteIdentifier(cfg.Table)}, nil
}

// WriteIncidents upserts a batch of incident snapshots.
func (w *Writer) WriteIncidents(incidents []*models.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	q := `
		INSERT INTO ` + w.table + `
		(incident_id, incident_type, severity, threat_level, priority, status,
		 source_ips, affected_systems, affected_users, indicators,
		 containment_actions, timeline, created_at, last_updated_at, closed_at,
		 lessons_learned, event_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (incident_id) DO UPDATE SET
		 incident_type = EXCLUDED.incident_type,
		 severity = EXCLUDED.severity,
		 threat_level = EXCLUDED.threat_level,
		 priority = EXCLUDED.priority,
		 status = EXCLUDED.status,
		 source_ips = EXCLUDED.source_ips,
		 affected_systems = EXCLUDED.affected_systems,
		 affected_users = EXCLUDED.affected_users,
		 indicators = EXCLUDED.indicators,
		 containment_actions = EXCLUDED.containment_actions,
		 timeline = EXCLUDED.timeline,
		 last_updated_at = EXCLUDED.last_updated_at,
		 closed_at = EXCLUDED.closed_at,
		 lessons_learned = EXCLUDED.lessons_learned,
		 event_count = EXCLUDED.event_count
	`

	for _, inc := range incidents {
		actions, err := json.Marshal(inc.ContainmentActions)
		if err != nil {
			return fmt.Errorf("marshal containment actions: %w", err)
		}
		timeline, err := json.Marshal(inc.Timeline)
		if err != nil {
			return fmt.Errorf("marshal timeline: %w", err)
		}
		var closedAt sql.NullTime
		if inc.ClosedAt != nil {
			closedAt = sql.NullTime{Time: *inc.ClosedAt, Valid: true}
		}
		if _, err := w.db.Exec(q,
			inc.ID,
			string(inc.Type),
			string(inc.Severity),
			inc.ThreatLevel,
			inc.Priority,
			string(inc.Status),
			pq.Array(inc.SourceIPs),
			pq.Array(inc.AffectedSystems),
			pq.Array(inc.AffectedUsers),
			pq.Array(inc.Indicators),
			actions,
			timeline,
			inc.CreatedAt,
			inc.LastUpdatedAt,
			closedAt,
			pq.Array(inc.LessonsLearned),
			inc.EventCount,
		); err != nil {
			return fmt.Errorf("upsert incident %s: %w", inc.ID, err)
		}
	}
	return nil
}

// Close closes the database handle.
func (w *Writer) Close() error {
	return w.db.Close()
}
