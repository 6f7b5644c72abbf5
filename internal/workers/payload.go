package workers

import "encoding/json"

// mapToStruct decodes a map[string]any (the Store's opaque payload shape)
// into a typed struct via a JSON round-trip, the same technique
// internal/queue uses in the opposite direction.
func mapToStruct(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
