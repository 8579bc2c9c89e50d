package domain

import "time"

const (
	UnknownTitle  = "Unknown Title"
	UnknownAuthor = "Unknown Author"
)

// Document is an ingested paper. Re-ingesting the same source for the same
// user replaces it wholesale and keeps its ID.
type Document struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	SourceName  string     `json:"source_name"`
	Text        string     `json:"text,omitempty"`
	Metadata    Metadata   `json:"metadata"`
	Citations   []Citation `json:"citations"`
	ChunkCount  int        `json:"chunk_count"`
	ContentHash string     `json:"content_hash"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Metadata struct {
	Title            string     `json:"title"`
	Authors          []string   `json:"authors"`
	CreationDate     *time.Time `json:"creation_date,omitempty"`
	ModificationDate *time.Time `json:"modification_date,omitempty"`
	PageCount        int        `json:"page_count"`
}

// Year returns the four-digit creation year, or "" when the date is unknown.
func (m Metadata) Year() string {
	if m.CreationDate == nil {
		return ""
	}
	return m.CreationDate.Format("2006")
}

// Citation is a parenthetical (Author, Year) reference found in the text.
type Citation struct {
	Author   string `json:"author"`
	Year     string `json:"year"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// DocumentProperties are the raw properties a parser reports alongside text.
type DocumentProperties struct {
	Title            string
	Author           string
	CreationDate     string
	ModificationDate string
	PageCount        int
}

// ParsedDocument is the output of a format parser.
type ParsedDocument struct {
	Text       string
	Properties DocumentProperties
}

type UploadStatus string

const (
	StatusUploaded   UploadStatus = "uploaded"
	StatusProcessing UploadStatus = "processing"
	StatusReady      UploadStatus = "ready"
	StatusFailed     UploadStatus = "failed"
)

// Upload tracks an asynchronously processed file.
type Upload struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Filename    string       `json:"filename"`
	MimeType    string       `json:"mime_type"`
	StoragePath string       `json:"storage_path"`
	Status      UploadStatus `json:"status"`
	DocumentID  string       `json:"document_id,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
