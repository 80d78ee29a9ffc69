package clipwriter

import (
	"errors"
	"fmt"
	"strings"
)

// Entry is one (container, codec, extension) combination the writer may try.
type Entry struct {
	Container string `json:"container"`
	Codec     string `json:"codec"`     // four character code, e.g. "X264"
	Extension string `json:"extension"` // file extension including the dot
}

func (e Entry) String() string {
	return fmt.Sprintf("%s/%s", e.Container, e.Codec)
}

// FallbackList is the ordered list of entries tried when a clip is opened.
type FallbackList []Entry

// DefaultFallbackList prefers H.264 in Matroska and ends with Motion JPEG in AVI,
// which OpenCV can always write.
func DefaultFallbackList() FallbackList {
	return FallbackList{
		{Container: "mkv", Codec: "X264", Extension: ".mkv"},
		{Container: "mp4", Codec: "mp4v", Extension: ".mp4"},
		{Container: "avi", Codec: "MJPG", Extension: ".avi"},
	}
}

// Normalize fills in missing extensions and adds the leading dot where it is missing.
func (l FallbackList) Normalize() FallbackList {
	out := make(FallbackList, len(l))
	for i, e := range l {
		e.Container = strings.ToLower(strings.TrimSpace(e.Container))
		e.Codec = strings.TrimSpace(e.Codec)
		e.Extension = strings.TrimSpace(e.Extension)
		switch {
		case e.Extension == "" && e.Container != "":
			e.Extension = "." + e.Container
		case e.Extension == "":
			e.Extension = CodecToFileExtension(e.Codec)
		case !strings.HasPrefix(e.Extension, "."):
			e.Extension = "." + e.Extension
		}
		out[i] = e
	}
	return out
}

func (l FallbackList) Validate() error {
	if len(l) == 0 {
		return errors.New("codec fallback list must not be empty")
	}
	for i, e := range l {
		if len(e.Codec) != 4 {
			return fmt.Errorf("codec fallback entry %d: codec %q is not a four character code", i, e.Codec)
		}
		if len(e.Extension) < 2 || !strings.HasPrefix(e.Extension, ".") {
			return fmt.Errorf("codec fallback entry %d: invalid extension %q", i, e.Extension)
		}
	}
	return nil
}

// Extensions returns the distinct file extensions of the list.
func (l FallbackList) Extensions() []string {
	seen := make(map[string]bool, len(l))
	var out []string
	for _, e := range l {
		ext := strings.ToLower(e.Extension)
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}
