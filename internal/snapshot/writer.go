package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/juju/mgo/v3/bson"
)

const maxNameAttempts = 1000

// Flatten turns records into a header and rows. The header is the union of
// all field names in first-seen order; missing fields become empty cells.
func Flatten(records []bson.D) ([]string, [][]string) {
	var header []string
	index := make(map[string]int)
	for _, record := range records {
		for _, elem := range record {
			if _, ok := index[elem.Name]; !ok {
				index[elem.Name] = len(header)
				header = append(header, elem.Name)
			}
		}
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		row := make([]string, len(header))
		for _, elem := range record {
			row[index[elem.Name]] = FormatValue(elem.Value)
		}
		rows = append(rows, row)
	}
	return header, rows
}

// FormatValue renders one field value as a CSV cell
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case bson.ObjectId:
		return v.Hex()
	case bson.D, bson.M, []interface{}, map[string]interface{}:
		data, err := json.Marshal(jsonValue(v))
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func jsonValue(value interface{}) interface{} {
	switch v := value.(type) {
	case bson.D:
		m := make(map[string]interface{}, len(v))
		for _, elem := range v {
			m[elem.Name] = jsonValue(elem.Value)
		}
		return m
	case bson.M:
		m := make(map[string]interface{}, len(v))
		for key, elem := range v {
			m[key] = jsonValue(elem)
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = jsonValue(elem)
		}
		return out
	case bson.ObjectId:
		return v.Hex()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	default:
		return v
	}
}

// Write publishes a CSV snapshot as dir/name. The file is written to a
// temporary name and moved into place, so readers never see a partial file.
// An existing snapshot is never replaced: when name is taken a numeric
// suffix is added (name_2.csv, name_3.csv, ...). It returns the final path.
func Write(dir, name string, header []string, rows [][]string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write snapshot rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", fmt.Errorf("failed to set snapshot permissions: %w", err)
	}

	return publish(tmpPath, dir, name)
}

// publish moves tmpPath to the first free candidate name without replacing
// existing files. Hard links fail on existing targets; filesystems without
// link support fall back to an existence check and rename.
func publish(tmpPath, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; i <= maxNameAttempts; i++ {
		candidate := filepath.Join(dir, name)
		if i > 1 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		}

		err := os.Link(tmpPath, candidate)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}

		if _, statErr := os.Lstat(candidate); statErr == nil {
			continue
		}
		if err := os.Rename(tmpPath, candidate); err != nil {
			return "", fmt.Errorf("failed to publish snapshot %s: %w", candidate, err)
		}
		return candidate, nil
	}

	return "", fmt.Errorf("failed to publish snapshot %s: no free file name", name)
}
