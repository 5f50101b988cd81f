package model

import "time"

type ImageSource string

const (
	ImageSourceSeed ImageSource = "seed"
	ImageSourceUser ImageSource = "user"
	ImageSourceAI   ImageSource = "ai"
)

// Image is a stored picture: a stimulus, an uploaded answer sheet or a
// generated scene. Checksum is unique and drives dedup upserts.
type Image struct {
	ID         string
	StorageKey string
	Checksum   string
	Mode       Mode
	Source     ImageSource
	Format     string
	Bytes      int64
	Width      int
	Height     int
	IsPublic   bool
	CreatedAt  time.Time
}
