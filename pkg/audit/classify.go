package audit

// Kind is the traversal role of an entity type.
type Kind int

const (
	// KindOther entities are counted but otherwise ignored.
	KindOther Kind = iota

	// KindContainer entities are recursed into, never inspected.
	KindContainer

	// KindLeaf entities are handed to the inspector.
	KindLeaf
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	default:
		return "other"
	}
}

// Classifier maps node type names to a Kind.
type Classifier struct {
	containers map[string]struct{}
	leaves     map[string]struct{}
}

// NewClassifier builds a classifier from container and leaf type names.
func NewClassifier(containerTypes, leafTypes []string) Classifier {
	c := Classifier{
		containers: make(map[string]struct{}, len(containerTypes)),
		leaves:     make(map[string]struct{}, len(leafTypes)),
	}
	for _, t := range containerTypes {
		c.containers[t] = struct{}{}
	}
	for _, t := range leafTypes {
		c.leaves[t] = struct{}{}
	}
	return c
}

// Classify returns the Kind of a type name. Containers take precedence.
func (c Classifier) Classify(typeName string) Kind {
	if _, ok := c.containers[typeName]; ok {
		return KindContainer
	}
	if _, ok := c.leaves[typeName]; ok {
		return KindLeaf
	}
	return KindOther
}
