// Package vocab defines the shared vocabulary data model exchanged
// between devices during synchronization.
package vocab

// SRSData holds the spaced-repetition scheduling state for an entry.
// The scheduling algorithm itself lives outside the sync engine; the
// merge only compares NextReview timestamps.
type SRSData struct {
	NextReview  int64   `json:"nextReview"` // unix millis
	Interval    int     `json:"interval"`   // days
	Ease        float64 `json:"ease"`
	Repetitions int     `json:"repetitions"`
}

// Entry is a single vocabulary record. The sync engine treats most
// fields opaquely; only ID, UpdatedAt and SRSData.NextReview drive
// merge decisions.
type Entry struct {
	ID          string  `json:"id"`
	Word        string  `json:"word"`
	Translation string  `json:"translation"`
	Context     string  `json:"context,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   int64   `json:"createdAt"` // unix millis
	UpdatedAt   int64   `json:"updatedAt"` // unix millis
	SRSData     SRSData `json:"srsData"`
}

// Profile identifies the language pair and owner of a record set.
// Two profiles are compatible iff their language pair matches exactly.
type Profile struct {
	ProfileID      string `json:"profileId"`
	ProfileName    string `json:"profileName"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

// Compatible reports whether two profiles may sync with each other.
func (p Profile) Compatible(other Profile) bool {
	return p.SourceLanguage == other.SourceLanguage &&
		p.TargetLanguage == other.TargetLanguage
}

// SyncStats summarizes the outcome of one merge for display.
type SyncStats struct {
	LocalAdded    int `json:"localAdded"`
	LocalUpdated  int `json:"localUpdated"`
	RemoteAdded   int `json:"remoteAdded"`
	RemoteUpdated int `json:"remoteUpdated"`
	TotalMerged   int `json:"totalMerged"`
}
