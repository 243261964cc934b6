package hoster

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// FileNameFromURL derives a file name from the last path segment of raw.
// It returns "download" when nothing usable is left.
func FileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return SanitizeFilename(path.Base(raw))
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	if name == "" && u.RawQuery != "" {
		// Links like https://host/?abc123 carry the file id in the query.
		name = u.RawQuery
	}
	return SanitizeFilename(name)
}

func fileNameFromDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, p, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return SanitizeFilename(p["filename"])
}

// SanitizeFilename removes or replaces characters invalid on Windows/Unix filesystems.
func SanitizeFilename(name string) string {
	if name == "" {
		return "download"
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	invalidChars := []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*", "&", "="}
	for _, char := range invalidChars {
		name = strings.ReplaceAll(name, char, "_")
	}

	var result strings.Builder
	for _, r := range name {
		if r >= 32 {
			result.WriteRune(r)
		}
	}
	name = result.String()

	baseName, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		baseName, ext = name[:idx], name[idx:]
	}
	reserved := []string{
		"CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	}
	for _, r := range reserved {
		if strings.EqualFold(baseName, r) {
			baseName = "_" + baseName
			break
		}
	}
	name = strings.Trim(baseName+ext, " .")
	if name == "" {
		name = "download"
	}
	return name
}
