package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS cameras (
		id              BIGSERIAL PRIMARY KEY,
		pole_id         BIGINT NOT NULL,
		location_code   TEXT NOT NULL,
		api_code        TEXT NOT NULL,
		ip              TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cameras_location_api ON cameras(location_code, api_code);`,
	`CREATE TABLE IF NOT EXISTS spots (
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		bbox_x1         INT NOT NULL,
		bbox_y1         INT NOT NULL,
		bbox_x2         INT NOT NULL,
		bbox_y2         INT NOT NULL,
		PRIMARY KEY (camera_id, spot_number)
	);`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id               BIGSERIAL PRIMARY KEY,
		camera_id        BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number      INT NOT NULL,
		plate_number     TEXT,
		plate_code       TEXT,
		plate_region     TEXT,
		confidence       INT,
		entry_time       TIMESTAMPTZ NOT NULL,
		exit_time        TIMESTAMPTZ,
		external_trip_id BIGINT,
		image_ref        TEXT,
		version          BIGINT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_tickets_open_spot ON tickets(camera_id, spot_number) WHERE exit_time IS NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_entry_time ON tickets(entry_time);`,
	`CREATE TABLE IF NOT EXISTS manual_reviews (
		id              BIGSERIAL PRIMARY KEY,
		ticket_id       BIGINT REFERENCES tickets(id) ON DELETE SET NULL,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		event_time      TIMESTAMPTZ NOT NULL,
		review_status   TEXT NOT NULL DEFAULT 'PENDING',
		image_ref       TEXT NOT NULL,
		clip_ref        TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_manual_reviews_status ON manual_reviews(review_status);`,
	`CREATE TABLE IF NOT EXISTS plate_logs (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		ticket_id       BIGINT REFERENCES tickets(id) ON DELETE SET NULL,
		status          TEXT NOT NULL,
		plate_number    TEXT,
		plate_code      TEXT,
		plate_region    TEXT,
		confidence      INT,
		image_ref       TEXT NOT NULL,
		raw_response    JSONB,
		attempt_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS reports (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       BIGINT NOT NULL REFERENCES cameras(id) ON DELETE CASCADE,
		spot_number     INT NOT NULL,
		event           TEXT NOT NULL,
		report_type     TEXT NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL,
		payload         JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
