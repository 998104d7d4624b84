package resolver

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SizeKeys are the metadata keys that carry a total byte count, in priority order.
var SizeKeys = []string{"size", "total_size", "content_length", "filesize", "length"}

var sizePattern = regexp.MustCompile(
	`(?i)(?:^|[^a-z0-9_])"?(size|total_size|content_length|filesize|length)"?[\s"]*[:=]?[\s"]*(\d+)`,
)

// ParseSize extracts a total size from companion metadata. It tries a JSON
// object, then a YAML mapping, then "key: number" text patterns.
func ParseSize(data []byte) (int64, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, false
	}

	if size, ok := parseJSON(data); ok {
		return size, true
	}
	if size, ok := parseYAML(data); ok {
		return size, true
	}
	return parseText(data)
}

func parseJSON(data []byte) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return 0, false
	}
	return lookupKeys(obj)
}

func parseYAML(data []byte) (int64, bool) {
	var obj map[string]any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return 0, false
	}
	return lookupKeys(obj)
}

func parseText(data []byte) (int64, bool) {
	for _, m := range sizePattern.FindAllSubmatch(data, -1) {
		if size, ok := toSize(string(m[2])); ok {
			return size, true
		}
	}
	return 0, false
}

func lookupKeys(obj map[string]any) (int64, bool) {
	for _, key := range SizeKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		if size, ok := toSize(v); ok {
			return size, true
		}
	}
	return 0, false
}

func toSize(v any) (int64, bool) {
	var n int64
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return 0, false
			}
			return toSize(f)
		}
		n = i
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt64 {
			return 0, false
		}
		n = int64(x)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}
