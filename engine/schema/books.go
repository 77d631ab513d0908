package schema

// Books returns the schema of the book catalog: tags for id, editions and
// genres, text for author, description and title, numerics for pages, year,
// votes and score, and a 384-dim cosine vector for all-MiniLM-L6-v2.
func Books() *Schema {
	return &Schema{
		Index: IndexSpec{Name: "book_index", Prefix: "book", StorageType: "json", KeyField: "id"},
		Fields: []Field{
			{Name: "id", Type: KindTag},
			{Name: "editions", Type: KindTag, Path: "$.editions[*]"},
			{Name: "genres", Type: KindTag, Path: "$.genres[*]"},
			{Name: "author", Type: KindText},
			{Name: "description", Type: KindText},
			{Name: "title", Type: KindText},
			{Name: "pages", Type: KindNumeric},
			{Name: "year_published", Type: KindNumeric},
			{Name: "votes", Type: KindNumeric},
			{Name: "score", Type: KindNumeric},
			{Name: "embedding", Type: KindVector, Attrs: &VectorAttrs{
				Dims:           384,
				DistanceMetric: DistanceCosine,
				Algorithm:      AlgorithmFlat,
				Datatype:       "float32",
			}},
		},
	}
}
