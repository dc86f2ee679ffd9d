package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eva-sean/oye-proxy/internal/persistence"
)

// ChargerRow is the GORM model backing persistence.ChargerRow.
type ChargerRow struct {
	ChargePointID string `gorm:"primaryKey;column:charge_point_id"`
	Status        string `gorm:"column:status"`
	LastSeen      time.Time
	MaxPower      *float64
}

func (ChargerRow) TableName() string { return "chargers" }

// MessageLogRow is the GORM model backing persistence.LogRecord.
type MessageLogRow struct {
	ID            uint   `gorm:"primaryKey"`
	ChargePointID string `gorm:"column:charge_point_id;index"`
	Direction     string
	PayloadJSON   string `gorm:"column:payload_json"`
	UnixSeconds   int64  `gorm:"column:unix_seconds;index"`
}

func (MessageLogRow) TableName() string { return "message_log" }

// ConfigRow is a single persisted configuration key/value pair.
type ConfigRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (ConfigRow) TableName() string { return "config" }

// UserRow is the minimal persisted operator/user row.
type UserRow struct {
	ID    string `gorm:"primaryKey"`
	Email string
}

func (UserRow) TableName() string { return "users" }

// Store implements persistence.Store on top of a GORM Postgres connection.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore wraps an already-opened *gorm.DB as a persistence.Store.
func NewStore(db *gorm.DB, log *zap.Logger) persistence.Store {
	return &Store{db: db, log: log}
}

func (s *Store) GetConfig(ctx context.Context) (map[string]string, error) {
	var rows []ConfigRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		s.log.Error("failed to load config", zap.Error(err))
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *Store) SetConfig(ctx context.Context, values map[string]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			row := ConfigRow{Key: k, Value: v}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpsertCharger(ctx context.Context, chargePointID string, status persistence.ChargerStatus) error {
	row := ChargerRow{
		ChargePointID: chargePointID,
		Status:        string(status),
		LastSeen:      time.Now().UTC(),
	}
	result := s.db.WithContext(ctx).
		Where(ChargerRow{ChargePointID: chargePointID}).
		Assign(ChargerRow{Status: string(status), LastSeen: row.LastSeen}).
		FirstOrCreate(&row)
	if result.Error != nil {
		s.log.Error("failed to upsert charger", zap.String("chargePointId", chargePointID), zap.Error(result.Error))
	}
	return result.Error
}

func (s *Store) GetCharger(ctx context.Context, chargePointID string) (*persistence.ChargerRow, error) {
	var row ChargerRow
	err := s.db.WithContext(ctx).First(&row, "charge_point_id = ?", chargePointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &persistence.ChargerRow{
		ChargePointID: row.ChargePointID,
		Status:        persistence.ChargerStatus(row.Status),
		LastSeen:      row.LastSeen,
		MaxPower:      row.MaxPower,
	}, nil
}

func (s *Store) SetPersistentLimit(ctx context.Context, chargePointID string, amperes *float64) error {
	row := ChargerRow{ChargePointID: chargePointID, Status: string(persistence.StatusOffline), MaxPower: amperes}
	result := s.db.WithContext(ctx).
		Where(ChargerRow{ChargePointID: chargePointID}).
		Assign(map[string]interface{}{"max_power": amperes}).
		FirstOrCreate(&row)
	if result.Error != nil {
		s.log.Error("failed to set persistent limit", zap.String("chargePointId", chargePointID), zap.Error(result.Error))
	}
	return result.Error
}

func (s *Store) AppendLog(ctx context.Context, rec persistence.LogRecord) error {
	row := MessageLogRow{
		ChargePointID: rec.ChargePointID,
		Direction:     string(rec.Direction),
		PayloadJSON:   rec.PayloadJSON,
		UnixSeconds:   rec.UnixSeconds,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Warn("failed to append message log", zap.String("chargePointId", rec.ChargePointID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*persistence.User, error) {
	var row UserRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &persistence.User{ID: row.ID, Email: row.Email}, nil
}
