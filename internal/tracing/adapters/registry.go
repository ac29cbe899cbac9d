package adapters

import "github.com/Agenta-AI/agenta-sub004/internal/model"

// Registry is an immutable, ordered set of extractors. Build one at startup
// and hand it to the pipeline.
type Registry struct {
	extractors []Extractor
}

// NewRegistry returns a registry running the given extractors in order.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: append([]Extractor(nil), extractors...)}
}

// DefaultRegistry returns a registry with one extractor per namespace plus
// exception, links and the unknown catch-all.
func DefaultRegistry() *Registry {
	return NewRegistry(
		DataExtractor{},
		MetricExtractor{},
		MetaExtractor{},
		TagExtractor{},
		RefExtractor{},
		TypeExtractor{},
		FlagExtractor{},
		ExceptionExtractor{},
		LinkExtractor{},
		UnknownExtractor{},
	)
}

// Names returns the extractor names in run order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Name()
	}
	return names
}

// Extract runs every extractor on in and folds the results.
func (r *Registry) Extract(in Input) FeatureSet {
	var fs FeatureSet
	fs.NodeType = model.NodeTypeTask
	for _, e := range r.extractors {
		fs.Add(e.Extract(in))
	}
	return fs
}
