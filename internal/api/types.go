package api

import "time"

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type BeatResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Tempo       int       `json:"tempo"`
	BeatsPerBar int       `json:"beatsPerBar"`
	BeatUnit    int       `json:"beatUnit"`
	Description string    `json:"description,omitempty"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UpdateBeatRequest struct {
	Title       *string `json:"title"`
	Tempo       *int    `json:"tempo"`
	BeatsPerBar *int    `json:"beatsPerBar"`
	BeatUnit    *int    `json:"beatUnit"`
	Description *string `json:"description"`
}

type PlayerRequest struct {
	BeatID     string `json:"beatId"`
	MainLetter string `json:"mainLetter,omitempty"`
	Label      string `json:"label,omitempty"`
}

type PrepareResponse struct {
	WavURL      string  `json:"wavUrl"`
	Label       string  `json:"label"`
	DurationSec float64 `json:"durationSec"`
	Bars        int     `json:"bars"`
	TempoBPM    float64 `json:"tempoBpm"`
}
