package contentstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTree = `
name: content
type: sling:Folder
children:
  - name: dam
    type: nt:folder
    children:
      - name: photo.jpg
        type: dam:Asset
        children:
          - name: jcr:content
            type: nt:unstructured
            children:
              - name: metadata
                type: nt:unstructured
                properties:
                  prism:expirationDate: "2023-06-15 10:30"
                  dam:size: {type: Long, value: "2048"}
                  dc:modified: {type: Date, value: "2024-01-02T03:04:05Z"}
`

func TestParseTree(t *testing.T) {
	root, err := ParseTree([]byte(sampleTree))
	require.NoError(t, err)

	assert.Equal(t, "sling:Folder", root.Type)

	meta := root.Find("dam/photo.jpg/jcr:content/metadata")
	require.NotNil(t, meta)

	assert.Equal(t, StringValue("2023-06-15 10:30"), meta.Properties["prism:expirationDate"])
	assert.Equal(t, LongValue(2048), meta.Properties["dam:size"])

	modified, err := meta.Properties["dc:modified"].Time()
	require.NoError(t, err)
	assert.True(t, modified.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestParseTree_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "   "},
		{"missing type", "name: root\n"},
		{"duplicate child", "type: a\nchildren:\n  - {name: x, type: b}\n  - {name: x, type: b}\n"},
		{"slash in name", "type: a\nchildren:\n  - {name: x/y, type: b}\n"},
		{"bad long", "type: a\nproperties:\n  n: {type: Long, value: abc}\n"},
		{"unknown type", "type: a\nproperties:\n  n: {type: Blob, value: abc}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTree([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTree), 0o644))

	root, err := LoadTree(path)
	require.NoError(t, err)
	assert.NotNil(t, root.Find("dam/photo.jpg"))

	_, err = LoadTree(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNode_WalkPaths(t *testing.T) {
	root, err := ParseTree([]byte(sampleTree))
	require.NoError(t, err)

	var paths []string
	err = root.Walk("/", func(p string, _ *Node) error {
		paths = append(paths, p)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/",
		"/dam",
		"/dam/photo.jpg",
		"/dam/photo.jpg/jcr:content",
		"/dam/photo.jpg/jcr:content/metadata",
	}, paths)
}

func TestNode_WalkStopsOnError(t *testing.T) {
	root, err := ParseTree([]byte(sampleTree))
	require.NoError(t, err)

	stop := errors.New("stop")
	visits := 0
	err = root.Walk("/", func(p string, _ *Node) error {
		visits++
		if p == "/dam" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, visits)
}

func TestNode_CloneIsDeep(t *testing.T) {
	root, err := ParseTree([]byte(sampleTree))
	require.NoError(t, err)

	clone := root.Clone()
	clone.Find("dam/photo.jpg/jcr:content/metadata").Properties["prism:expirationDate"] = DateValue(time.Now())

	orig := root.Find("dam/photo.jpg/jcr:content/metadata").Properties["prism:expirationDate"]
	assert.Equal(t, TypeString, orig.Type)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"content/dam", "/content/dam"},
		{"/content/dam/", "/content/dam"},
		{"//content//dam", "/content/dam"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPath(tt.in))
		})
	}

	assert.Equal(t, "/a/b/c", JoinPath("/a", "b/c"))
	assert.Equal(t, []string{"jcr:content", "metadata"}, SplitRel("/jcr:content//metadata/"))
}

func TestValue_Validate(t *testing.T) {
	assert.NoError(t, StringValue("anything").Validate())
	assert.NoError(t, DateValue(time.Now()).Validate())
	assert.NoError(t, BoolValue(true).Validate())
	assert.Error(t, Value{Type: TypeDate, Raw: "2023-06-15 10:30"}.Validate())
	assert.Error(t, Value{Type: TypeDouble, Raw: "x"}.Validate())

	_, err := StringValue("x").Time()
	assert.Error(t, err)
}

func TestStoreError(t *testing.T) {
	err := &StoreError{Op: "Resolve", Backend: BackendMemory, Path: "/a", Err: ErrNotFound}
	assert.Equal(t, "memory Resolve: /a: entity not found", err.Error())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalidCredentials(err))

	wrapped := fmt.Errorf("open: %w", &StoreError{Op: "OpenSession", Backend: BackendSQLite, Err: ErrInvalidCredentials})
	assert.True(t, IsInvalidCredentials(wrapped))
	assert.Equal(t, "admin", Credentials{}.WithDefaults().Username)
}
