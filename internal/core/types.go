package core

// Document is a JSON-like tree: nested maps, slices and scalars. It is the
// shape of working memory and of payloads meant to be merged into it.
type Document map[string]any

// Clone returns a deep copy of d. Nested Document, map[string]any and []any
// values are copied; everything else is treated as a scalar.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single document value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AsMap reports whether v is a mapping node and returns it as a Document.
func AsMap(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	}
	return nil, false
}
