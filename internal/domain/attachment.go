package domain

// MediaKind classifies an attachment for processing and storage pathing.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindFile  MediaKind = "file"
)

// KindForContentType maps a MIME content type to a MediaKind.
func KindForContentType(contentType string) MediaKind {
	switch {
	case len(contentType) >= 6 && contentType[:6] == "image/":
		return KindImage
	case len(contentType) >= 6 && contentType[:6] == "video/":
		return KindVideo
	case len(contentType) >= 6 && contentType[:6] == "audio/":
		return KindAudio
	default:
		return KindFile
	}
}

// ProcessingState tracks an attachment through the media pipeline.
type ProcessingState string

const (
	MediaPending    ProcessingState = "pending"
	MediaProcessing ProcessingState = "processing"
	MediaUploaded   ProcessingState = "uploaded"
	MediaFailed     ProcessingState = "failed"
)

// Attachment is media owned by exactly one message. Ref is empty until the
// upload resolves.
type Attachment struct {
	Kind  MediaKind
	State ProcessingState
	Ref   string
}
