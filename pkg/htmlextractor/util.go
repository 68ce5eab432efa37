package htmlextractor

import "encoding/json"

// unmarshalLoose decodes JSON into a generic map, tolerating the value
// being wrapped in an array (JSON-LD blocks sometimes hold an array of
// top-level objects).
func unmarshalLoose(raw string, out *map[string]interface{}) error {
	var single map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		*out = single
		return nil
	}
	var arr []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &arr); err == nil && len(arr) > 0 {
		*out = arr[0]
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
