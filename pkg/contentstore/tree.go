package contentstore

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is a serializable tree document.
//
// Seed files, the memory backend, and the s3 backend's per-node documents
// all share this shape. In YAML, a property may be written as a bare scalar,
// which is read as a String value:
//
//	name: content
//	type: sling:Folder
//	children:
//	  - name: photo.jpg
//	    type: dam:Asset
//	    children:
//	      - name: jcr:content
//	        type: nt:unstructured
//	        children:
//	          - name: metadata
//	            type: nt:unstructured
//	            properties:
//	              prism:expirationDate: "2023-06-15 10:30"
//	              dam:size: {type: Long, value: "2048"}
type Node struct {
	Name       string           `json:"name" yaml:"name"`
	Type       string           `json:"type" yaml:"type"`
	Properties map[string]Value `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []*Node          `json:"children,omitempty" yaml:"children,omitempty"`
}

// UnmarshalYAML accepts either a bare scalar (String) or a {type, value} map.
func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*v = StringValue(n.Value)
		return nil
	}
	type plain Value
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*v = Value(p)
	return nil
}

// LoadTree reads a YAML tree document from disk.
func LoadTree(path string) (*Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree file: %w", err)
	}
	root, err := ParseTree(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// ParseTree decodes and validates a YAML tree document.
func ParseTree(data []byte) (*Node, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("tree document is empty")
	}
	var root Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// Validate checks names, types, and property values across the tree.
// The root's name is ignored; it is always addressed as "/".
func (n *Node) Validate() error {
	return n.Walk("/", func(p string, node *Node) error {
		if strings.TrimSpace(node.Type) == "" {
			return fmt.Errorf("node %s: type is required", p)
		}
		for name, v := range node.Properties {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("node %s: empty property name", p)
			}
			if err := v.Validate(); err != nil {
				return fmt.Errorf("node %s: property %s: %w", p, name, err)
			}
		}
		seen := make(map[string]struct{}, len(node.Children))
		for _, c := range node.Children {
			if c == nil {
				return fmt.Errorf("node %s: nil child", p)
			}
			name := strings.TrimSpace(c.Name)
			if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
				return fmt.Errorf("node %s: invalid child name %q", p, c.Name)
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("node %s: duplicate child %q", p, name)
			}
			seen[name] = struct{}{}
		}
		return nil
	})
}

// Walk visits n and its descendants in pre-order, passing each node's
// absolute path. p is the path of n itself.
func (n *Node) Walk(p string, fn func(p string, node *Node) error) error {
	p = CleanPath(p)
	if err := fn(p, n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		if err := c.Walk(JoinPath(p, c.Name), fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the descendant at a relative path, or nil.
func (n *Node) Find(rel string) *Node {
	cur := n
	for _, seg := range SplitRel(rel) {
		var next *Node
		for _, c := range cur.Children {
			if c != nil && c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// Clone returns a deep copy of the tree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Name: n.Name, Type: n.Type}
	if n.Properties != nil {
		out.Properties = make(map[string]Value, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = v
		}
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}
