package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	QuestStatusRecruiting = "recruiting"
	QuestStatusClosed     = "closed"
)

const (
	CategoryExercise = "exercise"
	CategoryStudy    = "study"
	CategoryLiving   = "living"
	CategoryOther    = "other"
)

const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"unique" json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `gorm:"default:user" json:"role"`
	Picture      string    `gorm:"default:'/uploads/default.png'" json:"picture"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Quest struct {
	ID                 uint      `gorm:"primaryKey" json:"-"`
	PublicID           string    `gorm:"type:varchar(36);uniqueIndex" json:"id"`
	Title              string    `json:"title"`
	Category           string    `gorm:"default:other" json:"category"`
	TargetCount        int       `json:"target_count"`
	DurationDays       int       `json:"duration_days"`
	EntryFee           int       `json:"entry_fee"`
	MaxMemberCount     int       `json:"max_member_count"`
	CurrentMemberCount int       `json:"current_member_count"`
	ImageURL           string    `json:"image_url,omitempty"`
	Status             string    `gorm:"default:recruiting;index" json:"status"`
	HostUserID         uint      `json:"host_user_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Members []QuestMember `gorm:"foreignKey:QuestID" json:"-"`
}

// PublicID goes into URLs so the numeric PK stays internal.
func (q *Quest) BeforeCreate(tx *gorm.DB) error {
	if q.PublicID == "" {
		q.PublicID = uuid.NewString()
	}
	return nil
}

// QuestMember is one row per user per quest. JoinedAt defines host
// succession order when the host leaves.
type QuestMember struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	QuestID           uint      `gorm:"not null;uniqueIndex:idx_quest_user" json:"quest_id"`
	UserID            uint      `gorm:"not null;uniqueIndex:idx_quest_user" json:"user_id"`
	IsHost            bool      `gorm:"default:false" json:"is_host"`
	IsSuccess         bool      `gorm:"default:false" json:"is_success"`
	VerificationCount int       `gorm:"default:0" json:"verification_count"`
	JoinedAt          time.Time `gorm:"autoCreateTime" json:"joined_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

type Verification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	QuestID   uint      `gorm:"not null;index" json:"quest_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	ImagePath string    `json:"-"`
	Comment   string    `json:"comment,omitempty"`
	Status    string    `gorm:"default:approved" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
