package storage

import "time"

type ResumePosition struct {
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	Position  float64   `json:"position"` // Seconds
	Duration  float64   `json:"duration"` // Seconds
	Progress  float64   `json:"progress"` // 0.0 - 1.0
	UpdatedAt time.Time `json:"-"`
}
