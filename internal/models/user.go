package models

// User is the synchronized profile of a chat participant
type User struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	// AvatarLocalPath is the cached avatar file on this device; never pushed
	AvatarLocalPath string `json:"avatarLocalPath,omitempty"`
	Status          string `json:"status,omitempty"` // free-form presence text
}
