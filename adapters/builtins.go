package adapters

import "github.com/brettbedarf/colstore"

// Builtins are the resolvers for every built-in source type. Nil fields are
// not registered.
type Builtins struct {
	Files        colstore.SourceResolver // FileSourceType; defaults to [FileResolver]
	RequestBody  colstore.SourceResolver // RequestBodySourceType, usually the collection store
	Responses    colstore.SourceResolver // ResponseSourceType, usually [*Responses]
	DisableFiles bool                    // do not serve arbitrary files
}

// RegisterBuiltins registers the built-in source resolvers on r
func RegisterBuiltins(r *Registry, b Builtins) {
	if !b.DisableFiles {
		files := b.Files
		if files == nil {
			files = FileResolver{}
		}
		r.Register(colstore.FileSourceType, files)
	}
	if b.RequestBody != nil {
		r.Register(colstore.RequestBodySourceType, b.RequestBody)
	}
	if b.Responses != nil {
		r.Register(colstore.ResponseSourceType, b.Responses)
	}
}
