package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/clause"
)

var (
	ErrSessionNotFound = errors.New("terminal session not found")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrSessionClosed   = errors.New("terminal session closed")
	ErrUserNotFound    = errors.New("user not found")
)

var DB *gorm.DB

// Init opens the database at path and makes it the package-wide DB.
func Init(path string) error {
	db, err := Open(path, logger.Warn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open opens and migrates a SQLite database. ":memory:" is accepted and is
// pinned to a single connection so every query sees the same database.
func Open(path string, level logger.LogLevel) (*gorm.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	} else if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Device{}, &TerminalSession{}, &User{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// Device helpers

func CreateDevice(d *Device) error {
	if d.Protocol == "" {
		d.Protocol = ProtocolSSH
	}
	return DB.Create(d).Error
}

func GetDevice(id uint) (*Device, error) {
	var d Device
	if err := DB.First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &d, nil
}

func ListDevices() ([]Device, error) {
	var devices []Device
	if err := DB.Order("name").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// UpsertDevice inserts d or, when a device with the same name exists,
// overwrites its connection fields. d.ID is set on return.
func UpsertDevice(d *Device) error {
	if d.Protocol == "" {
		d.Protocol = ProtocolSSH
	}
	return DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"host", "port", "username", "password", "private_key", "protocol", "updated_at"}),
	}).Create(d).Error
}

// Terminal session helpers

// CreateSession issues a new pending session token for a device without
// an owner. Only admins see such sessions through the API.
func CreateSession(deviceID uint) (*TerminalSession, error) {
	return createSession(deviceID, nil)
}

// CreateUserSession issues a new pending session token owned by userID.
func CreateUserSession(deviceID, userID uint) (*TerminalSession, error) {
	return createSession(deviceID, &userID)
}

func createSession(deviceID uint, userID *uint) (*TerminalSession, error) {
	if _, err := GetDevice(deviceID); err != nil {
		return nil, err
	}
	s := &TerminalSession{
		Token:    uuid.NewString(),
		DeviceID: deviceID,
		UserID:   userID,
		Status:   SessionPending,
	}
	if err := DB.Create(s).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func GetSession(token string) (*TerminalSession, error) {
	var s TerminalSession
	if err := DB.Preload("Device").Where("token = ?", token).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns all sessions, newest first, without their transcripts.
func ListSessions() ([]TerminalSession, error) {
	var sessions []TerminalSession
	if err := DB.Omit("transcript", "recording").Order("id desc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListUserSessions returns the sessions owned by userID, newest first,
// without their transcripts.
func ListUserSessions(userID uint) ([]TerminalSession, error) {
	var sessions []TerminalSession
	if err := DB.Omit("transcript", "recording").Where("user_id = ?", userID).Order("id desc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// SetSessionStatus moves a session to status. Attaching stamps AttachedAt.
func SetSessionStatus(token, status string) error {
	updates := map[string]interface{}{"status": status}
	now := time.Now()
	switch status {
	case SessionActive:
		updates["attached_at"] = now
	case SessionClosed:
		updates["closed_at"] = now
	}
	res := DB.Model(&TerminalSession{}).Where("token = ?", token).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CloseSession stores the transcript delivered at unload and marks the
// session closed. A later transcript for the same session replaces the
// earlier one.
func CloseSession(token, transcript string) error {
	res := DB.Model(&TerminalSession{}).Where("token = ?", token).Updates(map[string]interface{}{
		"transcript": transcript,
		"status":     SessionClosed,
		"closed_at":  time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func SaveRecording(token, recording string) error {
	return DB.Model(&TerminalSession{}).Where("token = ?", token).Update("recording", recording).Error
}

// ExpirePendingSessions closes sessions that were never attached and were
// created before cutoff.
func ExpirePendingSessions(cutoff time.Time) (int64, error) {
	res := DB.Model(&TerminalSession{}).
		Where("status = ? AND created_at < ?", SessionPending, cutoff).
		Updates(map[string]interface{}{"status": SessionClosed, "closed_at": time.Now()})
	return res.RowsAffected, res.Error
}

// PurgeClosedSessions deletes closed sessions that ended before cutoff.
func PurgeClosedSessions(cutoff time.Time) (int64, error) {
	res := DB.Where("status = ? AND closed_at < ?", SessionClosed, cutoff).Delete(&TerminalSession{})
	return res.RowsAffected, res.Error
}

func GetDeviceByName(name string) (*Device, error) {
	var d Device
	if err := DB.Where("name = ?", name).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ActivateSession marks a session active when a view attached to it. A
// session that was closed in the meantime stays closed and
// ErrSessionClosed is returned.
func ActivateSession(token string) error {
	res := DB.Model(&TerminalSession{}).
		Where("token = ? AND status IN ?", token, []string{SessionPending, SessionActive, SessionDetached}).
		Updates(map[string]interface{}{"status": SessionActive, "attached_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetSession(token); err != nil {
			return err
		}
		return ErrSessionClosed
	}
	return nil
}

// DetachSession moves an active session to detached. Sessions in any other
// state are left alone so a transcript that already closed the session
// is not overridden.
func DetachSession(token string) error {
	return DB.Model(&TerminalSession{}).
		Where("token = ? AND status = ?", token, SessionActive).
		Update("status", SessionDetached).Error
}

// SessionDevice returns the device of s with its credentials still encrypted.
func SessionDevice(s *TerminalSession) (*Device, error) {
	if s.Device != nil {
		return s.Device, nil
	}
	return GetDevice(s.DeviceID)
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func UpdateUserPassword(id uint, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func UserCount() (int64, error) {
	var count int64
	err := DB.Model(&User{}).Count(&count).Error
	return count, err
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.Where("role = ?", RoleAdmin).Order("id").First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
