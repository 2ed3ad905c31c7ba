package models

// Document is a file shared inside a team
type Document struct {
	TeamID     string `json:"teamId"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	URL        string `json:"url,omitempty"` // set by the server once uploaded
	Checksum   string `json:"checksum,omitempty"`
	UploadedBy string `json:"uploadedBy"`
	// LocalPath is the downloaded copy on this device; never pushed
	LocalPath string `json:"localPath,omitempty"`
}
