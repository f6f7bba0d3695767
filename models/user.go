package models

import (
	"strings"
	"time"
)

type User struct {
	ID                int64     `bson:"_id" json:"id"`
	Username          string    `bson:"username,omitempty" json:"username,omitempty"`
	FirstName         string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName          string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	LanguageCode      string    `bson:"language_code,omitempty" json:"language_code,omitempty"`
	FilesUploaded     int64     `bson:"files_uploaded" json:"files_uploaded"`
	TotalSizeUploaded int64     `bson:"total_size_uploaded" json:"total_size_uploaded"`
	IsBanned          bool      `bson:"is_banned" json:"is_banned"`
	JoinedAt          time.Time `bson:"joined_at" json:"joined_at"`
	LastActivity      time.Time `bson:"last_activity" json:"last_activity"`
}

func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "Anonymous"
	}
	return name
}

// UserCounts is the user overview shown to admins.
type UserCounts struct {
	Total     int64 `json:"total_users"`
	Banned    int64 `json:"banned_users"`
	Active7d  int64 `json:"active_users_weekly"`
	Active24h int64 `json:"active_users_daily"`
	NewToday  int64 `json:"new_users_daily"`
	NewWeek   int64 `json:"new_users_weekly"`
	NewMonth  int64 `json:"new_users_monthly"`
}

type BroadcastStatus string

const (
	BroadcastInProgress BroadcastStatus = "in_progress"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastFailed     BroadcastStatus = "failed"
)

type Broadcast struct {
	ID           string          `bson:"_id" json:"id"`
	AdminID      int64           `bson:"admin_id" json:"admin_id"`
	Message      string          `bson:"message" json:"message"`
	TotalUsers   int             `bson:"total_users" json:"total_users"`
	SuccessCount int             `bson:"success_count" json:"success_count"`
	FailedCount  int             `bson:"failed_count" json:"failed_count"`
	Status       BroadcastStatus `bson:"status" json:"status"`
	StartedAt    time.Time       `bson:"started_at" json:"started_at"`
	CompletedAt  *time.Time      `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

type AdminLog struct {
	ID           string    `bson:"_id" json:"id"`
	AdminID      int64     `bson:"admin_id" json:"admin_id"`
	Action       string    `bson:"action" json:"action"`
	TargetUserID int64     `bson:"target_user_id,omitempty" json:"target_user_id,omitempty"`
	Details      string    `bson:"details,omitempty" json:"details,omitempty"`
	Timestamp    time.Time `bson:"timestamp" json:"timestamp"`
}

// GlobalStats backs GET /stats and the /stats_global command.
type GlobalStats struct {
	FileTotals
	UserCounts
	Uptime time.Duration `json:"-"`
}

// UserStats is one user's profile with counters summed over their files.
type UserStats struct {
	User         User
	Files        int
	Views        int64
	Downloads    int64
	Achievements []string
}
