// Package fingerprint computes a content digest over the current collections
// of every tracked database, and persists the last one seen.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/juju/mgo/v3/bson"
)

// DatabaseData is the content of one database's current collection
type DatabaseData struct {
	Database   string
	Collection string
	Records    []bson.D
}

// Compute returns the SHA-256 hex digest of the canonical serialization of
// data. Every mapping is serialized with sorted keys, so records that differ
// only in field order produce the same digest. Records are sorted by their
// serialized form, so the order the store returns them in does not matter.
// The order of data entries is significant.
func Compute(data []DatabaseData) (string, error) {
	payload, err := Canonical(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical returns the bytes Compute hashes:
// [{"collection":c,"data":[...],"database":d},...]
func Canonical(data []DatabaseData) ([]byte, error) {
	entries := make([]interface{}, 0, len(data))
	for _, d := range data {
		records := make([]json.RawMessage, 0, len(d.Records))
		for _, record := range d.Records {
			encoded, err := json.Marshal(normalize(record))
			if err != nil {
				return nil, fmt.Errorf("failed to serialize record in %s.%s: %w", d.Database, d.Collection, err)
			}
			records = append(records, encoded)
		}
		sort.Slice(records, func(i, j int) bool {
			return bytes.Compare(records[i], records[j]) < 0
		})
		entries = append(entries, map[string]interface{}{
			"database":   d.Database,
			"collection": d.Collection,
			"data":       records,
		})
	}

	// encoding/json writes map keys in sorted order
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize records: %w", err)
	}
	return payload, nil
}

// normalize converts BSON values into types encoding/json serializes deterministically
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case bson.D:
		m := make(map[string]interface{}, len(v))
		for _, elem := range v {
			m[elem.Name] = normalize(elem.Value)
		}
		return m
	case bson.M:
		m := make(map[string]interface{}, len(v))
		for key, elem := range v {
			m[key] = normalize(elem)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(v))
		for key, elem := range v {
			m[key] = normalize(elem)
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = normalize(elem)
		}
		return out
	case bson.ObjectId:
		return v.Hex()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		// NaN and the infinities have no JSON form
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("%v", v)
		}
		return v
	case []byte:
		return hex.EncodeToString(v)
	default:
		return v
	}
}
