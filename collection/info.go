package collection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blang/semver"
	"github.com/brettbedarf/colstore"
	"github.com/xeipuuv/gojsonschema"
)

// InfoVersion is the version tag written to every info file. Files whose
// major version differs are rejected.
const InfoVersion = "1.0.0"

var infoMajor = semver.MustParse(InfoVersion).Major

// infoSchemaJSON validates the structural shape only; unknown properties are
// allowed so newer writers stay readable.
const infoSchemaJSON = `{
  "type": "object",
  "required": ["version", "type"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "type": {"enum": ["collection", "folder", "request"]},
    "title": {"type": "string"},
    "url": {"type": "string"},
    "method": {"type": "string"},
    "headers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "value": {"type": "string"},
          "enabled": {"type": "boolean"}
        }
      }
    },
    "body": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["text", "file"]},
        "mimeType": {"type": "string"},
        "filePath": {"type": "string"}
      }
    },
    "variables": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "value": {"type": "string"},
          "enabled": {"type": "boolean"},
          "secret": {"type": "boolean"}
        }
      }
    }
  }
}`

var infoSchema = mustSchema(infoSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid info schema: %v", err))
	}
	return s
}

// InfoFile is the persisted metadata sidecar of a node.
// Runtime fields (id, parent, children) are never part of it.
type InfoFile struct {
	Version   string                        `json:"version"`
	Title     string                        `json:"title"`
	Type      colstore.NodeType             `json:"type"`
	URL       string                        `json:"url,omitempty"`
	Method    colstore.Method               `json:"method,omitempty"`
	Headers   []colstore.Header             `json:"headers,omitempty"`
	Body      *colstore.Body                `json:"body,omitempty"`
	Variables map[string]colstore.Variable `json:"variables,omitempty"`
}

// EncodeInfo serializes info, omitting every field that does not belong to
// its node type.
func EncodeInfo(info *InfoFile) ([]byte, error) {
	if !info.Type.Valid() {
		return nil, fmt.Errorf("cannot encode info of unknown type %q", info.Type)
	}
	out := InfoFile{
		Version: info.Version,
		Title:   info.Title,
		Type:    info.Type,
	}
	if out.Version == "" {
		out.Version = InfoVersion
	}
	switch info.Type {
	case colstore.CollectionNodeType:
		if len(info.Variables) > 0 {
			out.Variables = info.Variables
		}
	case colstore.RequestNodeType:
		out.URL = info.URL
		out.Method = info.Method
		if len(info.Headers) > 0 {
			out.Headers = info.Headers
		}
		out.Body = info.Body
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecodeInfo parses an info file. Any structural problem, a missing or
// unsupported version, or an unknown type yields a [*SchemaError].
// Fields that do not belong to the decoded type are dropped.
func DecodeInfo(data []byte) (*InfoFile, error) {
	res, err := infoSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &SchemaError{Reason: "malformed json", Err: err}
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, &SchemaError{Reason: strings.Join(msgs, "; ")}
	}

	var info InfoFile
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &SchemaError{Reason: "malformed json", Err: err}
	}

	v, err := semver.ParseTolerant(info.Version)
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("unrecognized version %q", info.Version), Err: err}
	}
	if v.Major != infoMajor {
		return nil, &SchemaError{Reason: fmt.Sprintf("unsupported version %s", v)}
	}

	switch info.Type {
	case colstore.CollectionNodeType:
		info.URL, info.Method, info.Headers, info.Body = "", "", nil, nil
	case colstore.FolderNodeType:
		info.URL, info.Method, info.Headers, info.Body, info.Variables = "", "", nil, nil, nil
	case colstore.RequestNodeType:
		info.Variables = nil
		if info.Method != "" {
			m, err := colstore.ParseMethod(string(info.Method))
			if err != nil {
				return nil, &SchemaError{Reason: "invalid method", Err: err}
			}
			info.Method = m
		}
		if info.Body != nil && info.Body.Type == colstore.FileBodyType && info.Body.FilePath == "" {
			return nil, &SchemaError{Reason: "file body without filePath"}
		}
	}
	return &info, nil
}
