package collection

import (
	"testing"

	"github.com/brettbedarf/colstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info *InfoFile
	}{
		{
			name: "collection",
			info: &InfoFile{
				Version: InfoVersion,
				Title:   "API",
				Type:    colstore.CollectionNodeType,
				Variables: map[string]colstore.Variable{
					"base": {Value: "https://example.com", Enabled: true},
				},
			},
		},
		{
			name: "folder",
			info: &InfoFile{Version: InfoVersion, Title: "Users", Type: colstore.FolderNodeType},
		},
		{
			name: "text request",
			info: &InfoFile{
				Version: InfoVersion,
				Title:   "Get Users",
				Type:    colstore.RequestNodeType,
				URL:     "https://example.com/users",
				Method:  colstore.MethodPost,
				Headers: []colstore.Header{
					{Name: "Accept", Value: "application/json", Enabled: true},
					{Name: "X-Debug", Value: "1"},
				},
				Body: colstore.TextBody("application/json"),
			},
		},
		{
			name: "file request",
			info: &InfoFile{
				Version: InfoVersion,
				Title:   "Upload",
				Type:    colstore.RequestNodeType,
				Method:  colstore.MethodPut,
				Body:    colstore.FileBody("/tmp/upload.bin"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeInfo(tt.info)
			require.NoError(t, err)
			got, err := DecodeInfo(data)
			require.NoError(t, err)
			assert.Equal(t, tt.info, got)
		})
	}
}

func TestEncodeInfo_OmitsForeignFields(t *testing.T) {
	t.Parallel()

	data, err := EncodeInfo(&InfoFile{
		Title:     "Folder",
		Type:      colstore.FolderNodeType,
		URL:       "https://example.com",
		Method:    colstore.MethodGet,
		Variables: map[string]colstore.Variable{"a": {Value: "1"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "1.0.0", "title": "Folder", "type": "folder"}`, string(data))

	_, err = EncodeInfo(&InfoFile{Type: "widget"})
	assert.Error(t, err)
}

func TestDecodeInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(t *testing.T, info *InfoFile)
	}{
		{
			name: "unknown fields ignored",
			data: `{"version": "1.0.0", "type": "folder", "title": "F", "draft": true, "children": ["x"]}`,
			check: func(t *testing.T, info *InfoFile) {
				assert.Equal(t, "F", info.Title)
			},
		},
		{
			name: "foreign fields dropped",
			data: `{"version": "1.0.0", "type": "folder", "url": "http://x", "variables": {"a": {"value": "1"}}}`,
			check: func(t *testing.T, info *InfoFile) {
				assert.Empty(t, info.URL)
				assert.Nil(t, info.Variables)
			},
		},
		{
			name: "method normalized",
			data: `{"version": "1.0.0", "type": "request", "method": "patch"}`,
			check: func(t *testing.T, info *InfoFile) {
				assert.Equal(t, colstore.MethodPatch, info.Method)
			},
		},
		{
			name: "tolerant minor version",
			data: `{"version": "1.4", "type": "folder"}`,
			check: func(t *testing.T, info *InfoFile) {
				assert.Equal(t, colstore.FolderNodeType, info.Type)
			},
		},
		{name: "missing version", data: `{"type": "folder"}`, wantErr: true},
		{name: "missing type", data: `{"version": "1.0.0"}`, wantErr: true},
		{name: "unknown type", data: `{"version": "1.0.0", "type": "widget"}`, wantErr: true},
		{name: "newer major", data: `{"version": "2.0.0", "type": "folder"}`, wantErr: true},
		{name: "garbage version", data: `{"version": "banana", "type": "folder"}`, wantErr: true},
		{name: "bad method", data: `{"version": "1.0.0", "type": "request", "method": "BREW"}`, wantErr: true},
		{name: "file body without path", data: `{"version": "1.0.0", "type": "request", "body": {"type": "file"}}`, wantErr: true},
		{name: "malformed json", data: `{"version": `, wantErr: true},
		{name: "not an object", data: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := DecodeInfo([]byte(tt.data))
			if tt.wantErr {
				var se *SchemaError
				assert.ErrorAs(t, err, &se)
				return
			}
			require.NoError(t, err)
			tt.check(t, info)
		})
	}
}
