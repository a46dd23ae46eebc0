package colstore

// SourceType valid types are FileSourceType, RequestBodySourceType, ResponseSourceType
type SourceType string

const (
	// FileSourceType streams an arbitrary file by absolute path
	FileSourceType SourceType = "file"
	// RequestBodySourceType streams the body of a Request node
	RequestBodySourceType SourceType = "request-body"
	// ResponseSourceType streams an in-flight HTTP response body
	ResponseSourceType SourceType = "response"
)

// SourceDescriptor identifies the byte content a stream is opened on.
// Only the field matching Type is read.
type SourceDescriptor struct {
	Type       SourceType `json:"type"`
	Path       string     `json:"path,omitempty"`
	NodeID     NodeID     `json:"nodeId"`
	ResponseID string     `json:"responseId,omitempty"`
}

// FileSource returns a descriptor for the file at path
func FileSource(path string) SourceDescriptor {
	return SourceDescriptor{Type: FileSourceType, Path: path}
}

// RequestBodySource returns a descriptor for the body of the Request node id
func RequestBodySource(id NodeID) SourceDescriptor {
	return SourceDescriptor{Type: RequestBodySourceType, NodeID: id}
}

// ResponseSource returns a descriptor for the registered response id
func ResponseSource(id string) SourceDescriptor {
	return SourceDescriptor{Type: ResponseSourceType, ResponseID: id}
}

// RequestSpec is the executable view of a Request node handed to the HTTP engine
type RequestSpec struct {
	NodeID  NodeID
	URL     string
	Method  Method
	Headers []Header
	Body    *Body
	// BodyPath is the absolute path of the text body file, if any
	BodyPath string
}
