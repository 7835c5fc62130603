package util

import (
	"mime"
	"path/filepath"
	"strings"
)

var extTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".pdf":  "application/pdf",
}

// DeclaredMIME берём явный MIME (Telegram document.MimeType), иначе по расширению имени.
// Байты не смотрим: валидатор доверяет только заявленному типу.
func DeclaredMIME(explicit, filename string) string {
	if exp := strings.TrimSpace(explicit); exp != "" {
		return exp
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ExtForMIME: расширение для имени файла при загрузке.
func ExtForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ""
	}
}
