package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ticketRow is one row of the tickets table: the whole document in jsonb plus
// filter columns and a version counter for compare-and-swap.
type ticketRow struct {
	ID           string         `gorm:"primaryKey;type:varchar(128)"`
	Status       string         `gorm:"type:varchar(16);index;not null"`
	Priority     string         `gorm:"type:varchar(16)"`
	AssignedTo   *string        `gorm:"type:varchar(255)"`
	CreatorEmail string         `gorm:"type:varchar(320);index"`
	Version      int64          `gorm:"not null"`
	Document     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ticketRow) TableName() string { return "tickets" }

type lockStatusRow struct {
	ID                int16 `gorm:"primaryKey"`
	TicketSiteLocked  bool  `gorm:"not null"`
	StaffPortalLocked bool  `gorm:"not null"`
	Version           int64 `gorm:"not null"`
	UpdatedAt         time.Time
}

func (lockStatusRow) TableName() string { return "lock_status" }

const lockStatusRowID = 1

// GormStore keeps tickets in Postgres. Unlike the content backends the
// revision check runs inside the UPDATE, so concurrent writers cannot both win.
type GormStore struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewGormStore(db *gorm.DB, log *slog.Logger) *GormStore {
	if log == nil {
		log = slog.Default()
	}
	return &GormStore{db: db, log: log}
}

func (s *GormStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var row ticketRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return rowToTicket(&row)
}

func (s *GormStore) SaveTicket(ctx context.Context, t *model.Ticket, _ string) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", t.ID, err)
	}
	if t.Revision == "" {
		row := ticketRow{
			ID:           t.ID,
			Status:       string(t.Status),
			Priority:     string(t.Priority),
			AssignedTo:   t.AssignedTo,
			CreatorEmail: t.CreatorEmail,
			Version:      1,
			Document:     datatypes.JSON(doc),
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &errs.ConflictError{Path: "tickets/" + t.ID}
			}
			return err
		}
		t.Revision = "1"
		return nil
	}
	expected, err := strconv.ParseInt(t.Revision, 10, 64)
	if err != nil {
		return &errs.ConflictError{Path: "tickets/" + t.ID, Expected: t.Revision}
	}
	res := s.db.WithContext(ctx).Model(&ticketRow{}).
		Where("id = ? AND version = ?", t.ID, expected).
		Updates(map[string]interface{}{
			"status":        string(t.Status),
			"priority":      string(t.Priority),
			"assigned_to":   t.AssignedTo,
			"creator_email": t.CreatorEmail,
			"version":       expected + 1,
			"document":      datatypes.JSON(doc),
			"updated_at":    t.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errs.ConflictError{Path: "tickets/" + t.ID, Expected: t.Revision}
	}
	t.Revision = strconv.FormatInt(expected+1, 10)
	return nil
}

func (s *GormStore) ListTickets(ctx context.Context, status model.TicketStatus) ([]model.Ticket, error) {
	var rows []ticketRow
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeRows(rows, s.log), nil
}

// decodeRows skips documents that no longer decode, like ContentStore does.
func decodeRows(rows []ticketRow, log *slog.Logger) []model.Ticket {
	out := make([]model.Ticket, 0, len(rows))
	for i := range rows {
		t, err := rowToTicket(&rows[i])
		if err != nil {
			log.Warn("repository: skip unreadable ticket", "id", rows[i].ID, "error", err)
			continue
		}
		out = append(out, *t)
	}
	return out
}

func (s *GormStore) GetLockStatus(ctx context.Context) (*model.LockStatus, error) {
	var row lockStatusRow
	if err := s.db.WithContext(ctx).First(&row, lockStatusRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.LockStatus{}, nil
		}
		return nil, err
	}
	return &model.LockStatus{
		TicketSiteLocked:  row.TicketSiteLocked,
		StaffPortalLocked: row.StaffPortalLocked,
		Revision:          strconv.FormatInt(row.Version, 10),
	}, nil
}

func (s *GormStore) SaveLockStatus(ctx context.Context, ls *model.LockStatus) error {
	now := time.Now().UTC()
	if ls.Revision == "" {
		row := lockStatusRow{
			ID:                lockStatusRowID,
			TicketSiteLocked:  ls.TicketSiteLocked,
			StaffPortalLocked: ls.StaffPortalLocked,
			Version:           1,
			UpdatedAt:         now,
		}
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &errs.ConflictError{Path: "lock_status"}
		}
		ls.Revision = "1"
		return nil
	}
	expected, err := strconv.ParseInt(ls.Revision, 10, 64)
	if err != nil {
		return &errs.ConflictError{Path: "lock_status", Expected: ls.Revision}
	}
	res := s.db.WithContext(ctx).Model(&lockStatusRow{}).
		Where("id = ? AND version = ?", lockStatusRowID, expected).
		Updates(map[string]interface{}{
			"ticket_site_locked":  ls.TicketSiteLocked,
			"staff_portal_locked": ls.StaffPortalLocked,
			"version":             expected + 1,
			"updated_at":          now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errs.ConflictError{Path: "lock_status", Expected: ls.Revision}
	}
	ls.Revision = strconv.FormatInt(expected+1, 10)
	return nil
}

func rowToTicket(row *ticketRow) (*model.Ticket, error) {
	var t model.Ticket
	if err := json.Unmarshal(row.Document, &t); err != nil {
		return nil, fmt.Errorf("corrupted ticket data %s: %w", row.ID, err)
	}
	t.Revision = strconv.FormatInt(row.Version, 10)
	return &t, nil
}
