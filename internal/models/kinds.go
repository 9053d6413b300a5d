package models

import (
	"path/filepath"
	"strings"
)

// FileKind is the closed set of file types the assistant accepts.
type FileKind int

const (
	FileUnknown FileKind = iota
	FileAudio
	FileImage
	FileCSV
	FileText
	FilePDF
	FileHTML
	FileMarkdown
	FileWord
	FileSpreadsheet
	FileMacroSpreadsheet
)

// AllFileKinds lists every known kind except FileUnknown.
var AllFileKinds = []FileKind{
	FileAudio,
	FileImage,
	FileCSV,
	FileText,
	FilePDF,
	FileHTML,
	FileMarkdown,
	FileWord,
	FileSpreadsheet,
	FileMacroSpreadsheet,
}

var extensionKinds = map[string]FileKind{
	".mp3":      FileAudio,
	".wav":      FileAudio,
	".flac":     FileAudio,
	".jpg":      FileImage,
	".jpeg":     FileImage,
	".png":      FileImage,
	".gif":      FileImage,
	".bmp":      FileImage,
	".csv":      FileCSV,
	".txt":      FileText,
	".pdf":      FilePDF,
	".html":     FileHTML,
	".htm":      FileHTML,
	".md":       FileMarkdown,
	".markdown": FileMarkdown,
	".docx":     FileWord,
	".xlsx":     FileSpreadsheet,
	".xlsm":     FileMacroSpreadsheet,
}

// KindOfPath maps a file name to its kind by extension, case-insensitively.
func KindOfPath(path string) FileKind {
	return extensionKinds[Extension(path)]
}

// Extension returns the lower-cased extension of path, including the dot.
func Extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// IsDocument reports whether the kind can be ingested into the knowledge store.
func (k FileKind) IsDocument() bool {
	switch k {
	case FileCSV, FileText, FilePDF, FileHTML, FileMarkdown, FileWord, FileSpreadsheet, FileMacroSpreadsheet:
		return true
	case FileAudio, FileImage, FileUnknown:
		return false
	}
	return false
}

func (k FileKind) String() string {
	switch k {
	case FileAudio:
		return "audio"
	case FileImage:
		return "image"
	case FileCSV:
		return "csv"
	case FileText:
		return "text"
	case FilePDF:
		return "pdf"
	case FileHTML:
		return "html"
	case FileMarkdown:
		return "markdown"
	case FileWord:
		return "docx"
	case FileSpreadsheet:
		return "xlsx"
	case FileMacroSpreadsheet:
		return "xlsm"
	case FileUnknown:
		return "unknown"
	}
	return "unknown"
}
