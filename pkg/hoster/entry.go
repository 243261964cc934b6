package hoster

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UnmarshalJSON accepts the folder listing format, where size may be a
// number or a numeric string and password is a 0/1 flag or a boolean.
func (e *FolderEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Filename string          `json:"filename"`
		Size     json.RawMessage `json:"size"`
		Password json.RawMessage `json:"password"`
		Link     string          `json:"link"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	size, err := flexInt(raw.Size)
	if err != nil {
		return fmt.Errorf("folder entry %q: size: %w", raw.Filename, err)
	}
	private, err := flexBool(raw.Password)
	if err != nil {
		return fmt.Errorf("folder entry %q: password: %w", raw.Filename, err)
	}
	*e = FolderEntry{
		Filename:  raw.Filename,
		SizeBytes: size,
		IsPrivate: private,
		Link:      raw.Link,
	}
	return nil
}

func flexInt(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func flexBool(raw json.RawMessage) (bool, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	switch s {
	case "", "null", "0", "false":
		return false, nil
	case "1", "true":
		return true, nil
	}
	return false, fmt.Errorf("unexpected value %s", raw)
}
