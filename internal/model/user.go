package model

import "time"

// User represents an application user record.  The json tags are omitted
// because handlers define their own response types; PasswordHash must never
// leave the service layer.
//
// Fields:
//  ID           – store-assigned identifier (UUID or ObjectID hex).
//  Name         – display name given at registration.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hashed password.
//  CreatedAt    – timestamp of creation.
type User struct {
    ID           string
    Name         string
    Email        string
    PasswordHash string
    CreatedAt    time.Time
}

// HistoryEntry is one completed analysis owned by a user.  Entries are
// immutable once written.
type HistoryEntry struct {
    ID             string    `json:"id"`
    PlantType      string    `json:"plantType,omitempty"`
    Status         string    `json:"status"`
    Recommendation string    `json:"recommendation"`
    ImageURL       string    `json:"imageUrl"`
    ThumbnailURL   string    `json:"thumbnailUrl"`
    AnalyzedAt     time.Time `json:"analyzedAt"`
}

// HistoryPage is a slice of a user's history, newest first, plus the total
// number of entries the user owns.
type HistoryPage struct {
    Username string
    Entries  []HistoryEntry
    Total    int
}
