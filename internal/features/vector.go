package features

// BuildVector reads each schema column from the field map in order,
// substituting 0 for any absent column. The result always has exactly
// len(schema) entries in schema order, independent of the enricher's
// own defaults. That stability is the classifier's contract.
func BuildVector(fields map[string]float64, schema []string) []float64 {
	vector := make([]float64, len(schema))
	for i, name := range schema {
		vector[i] = fields[name]
	}
	return vector
}
