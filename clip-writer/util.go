package clipwriter

import (
	"strings"
)

// CodecToFileExtension returns the usual file extension for a four character code.
func CodecToFileExtension(codec string) string {
	codec = strings.ToUpper(codec)
	switch codec {
	case "MJPG":
		return ".avi" // MJPG is typically stored in AVI containers
	case "MP4V", "AVC1", "H264":
		return ".mp4"
	case "X264", "HEVC", "H265":
		return ".mkv"
	case "VP80", "VP90":
		return ".webm"
	case "YUYV":
		return ".avi" // Raw formats typically use AVI
	default:
		// Default to avi for most capture codecs
		return ".avi"
	}
}

// VideoFormatToMimeType returns the MIME type for a container or file extension.
func VideoFormatToMimeType(format string) string {
	format = strings.ToLower(format)
	format = strings.TrimPrefix(format, ".") // Remove leading dot if present
	switch format {
	case "mp4":
		return "video/mp4"
	case "avi":
		return "video/x-msvideo"
	case "mkv":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
