// Package adapters extracts typed features from normalized span attributes.
//
// Each Extractor reads one namespace and returns one variant of the Features
// sum type. A Registry runs a fixed set of extractors and folds their output
// into a FeatureSet consumed by the builders.
package adapters

import (
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

// Features is the closed set of extractor outputs. The unexported marker
// method keeps implementations inside this package.
type Features interface {
	isFeatures()
}

// DataFeatures holds data.* attributes (inputs, outputs, internals).
type DataFeatures struct{ Data map[string]any }

// MetricFeatures holds metrics.* attributes (costs, tokens, durations).
type MetricFeatures struct{ Metrics map[string]any }

// MetaFeatures holds meta.* attributes.
type MetaFeatures struct{ Meta map[string]any }

// TagFeatures holds tags.* attributes.
type TagFeatures struct{ Tags map[string]any }

// FlagFeatures holds flags.* attributes.
type FlagFeatures struct{ Flags map[string]any }

// RefFeatures holds refs.* attributes grouped by reference kind.
type RefFeatures struct{ Refs model.Refs }

// TypeFeatures holds the tree and node classification.
type TypeFeatures struct {
	Tree string
	Node model.NodeType
}

// ExceptionFeatures holds the exception recorded on the span, if any.
type ExceptionFeatures struct{ Exception *model.Exception }

// LinkFeatures holds links to other spans, with canonical identifiers.
type LinkFeatures struct{ Links []model.Link }

// UnknownFeatures collects attributes outside every structured namespace.
type UnknownFeatures struct{ Attributes map[string]any }

func (DataFeatures) isFeatures()      {}
func (MetricFeatures) isFeatures()    {}
func (MetaFeatures) isFeatures()      {}
func (TagFeatures) isFeatures()       {}
func (FlagFeatures) isFeatures()      {}
func (RefFeatures) isFeatures()       {}
func (TypeFeatures) isFeatures()      {}
func (ExceptionFeatures) isFeatures() {}
func (LinkFeatures) isFeatures()      {}
func (UnknownFeatures) isFeatures()   {}

// FeatureSet is the union of all features extracted from one span.
type FeatureSet struct {
	Data      map[string]any
	Metrics   map[string]any
	Meta      map[string]any
	Tags      map[string]any
	Flags     map[string]any
	Refs      model.Refs
	TreeType  string
	NodeType  model.NodeType
	Exception *model.Exception
	Links     []model.Link
	Unknown   map[string]any
}

// Add folds f into the set. Later features of the same variant replace
// earlier ones.
func (s *FeatureSet) Add(f Features) {
	switch v := f.(type) {
	case DataFeatures:
		s.Data = v.Data
	case MetricFeatures:
		s.Metrics = v.Metrics
	case MetaFeatures:
		s.Meta = v.Meta
	case TagFeatures:
		s.Tags = v.Tags
	case FlagFeatures:
		s.Flags = v.Flags
	case RefFeatures:
		s.Refs = v.Refs
	case TypeFeatures:
		s.TreeType = v.Tree
		s.NodeType = v.Node
	case ExceptionFeatures:
		s.Exception = v.Exception
	case LinkFeatures:
		s.Links = v.Links
	case UnknownFeatures:
		s.Unknown = v.Attributes
	}
}
