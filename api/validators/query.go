package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter bounded to
// [min, max]. Absent or blank values yield def.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer")
	}
	if value < min || value > max {
		return 0, queryError(key, "must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
	}
	return value, nil
}

// QueryString returns the trimmed query value capped to maxRunes.
func QueryString(r *http.Request, key string, maxRunes int) string {
	return SanitizeString(r.URL.Query().Get(key), maxRunes)
}

func queryError(key, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
		WithDetails(map[string]string{key: msg})
}
