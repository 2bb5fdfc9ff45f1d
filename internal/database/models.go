package database

import "time"

// Device protocols.
const (
	ProtocolSSH   = "ssh"
	ProtocolLocal = "local"
)

// Terminal session lifecycle. A session starts pending, is active while a
// terminal view is attached, detached when the view dropped without a
// shutdown, and closed once the transcript was received or it expired.
const (
	SessionPending  = "pending"
	SessionActive   = "active"
	SessionDetached = "detached"
	SessionClosed   = "closed"
)

type Device struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	Host       string    `gorm:"not null;default:''" json:"host"`
	Port       int       `gorm:"not null;default:22" json:"port"`
	Username   string    `gorm:"not null;default:''" json:"username"`
	Password   string    `json:"-"` // Fernet-encrypted
	PrivateKey string    `gorm:"type:text" json:"-"` // Fernet-encrypted PEM
	Protocol   string    `gorm:"not null;default:ssh" json:"protocol"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TerminalSession struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Token      string     `gorm:"uniqueIndex;not null;size:64" json:"token"`
	DeviceID   uint       `gorm:"not null;index" json:"device_id"`
	UserID     *uint      `gorm:"index" json:"user_id,omitempty"` // nil when issued from the CLI
	Status     string     `gorm:"not null;default:pending;index" json:"status"`
	Transcript string     `gorm:"type:text" json:"transcript,omitempty"`
	Recording  string     `gorm:"type:text" json:"-"` // JSON export of the server-side recording
	AttachedAt *time.Time `json:"attached_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Device *Device `gorm:"foreignKey:DeviceID" json:"device,omitempty"`
}

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
