package models

import (
	"encoding/json"
	"fmt"
)

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	default:
		return fmt.Errorf("unsupported JSON scan type %T", src)
	}
}

func jsonValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
