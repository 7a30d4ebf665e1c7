package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Comment is one annotation on a document. The comments sequence is replaced
// wholesale on every content update, never merged.
type Comment struct {
	Nr   int    `json:"nr"`
	Text string `json:"text"`
}

// Document is a stored document together with its denormalized owner. The
// owner is the user whose record the document lives under; the filename is
// unique across every user's documents, not per owner.
type Document struct {
	ID           string
	Filename     string
	Code         bool
	Title        string
	Content      string
	Comments     []Comment
	AllowedUsers []string
	OwnerName    string
	OwnerEmail   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
