package metadata

import "strings"

// Reserved metadata keys set by the Kafka transport. They travel with the
// watermill message but are never treated as application headers.
const (
	KeyKafkaKey       = "_kafka_key"
	KeyKafkaTopic     = "_kafka_topic"
	KeyKafkaPartition = "_kafka_partition"
	KeyKafkaOffset    = "_kafka_offset"

	reservedPrefix = "_"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithKey returns a clone carrying the Kafka partition key. A nil key leaves the
// message unkeyed.
func (m Metadata) WithKey(key []byte) Metadata {
	if key == nil {
		return m.Clone()
	}
	return m.With(KeyKafkaKey, string(key))
}

// Key returns the Kafka partition key, if the message had one.
func (m Metadata) Key() ([]byte, bool) {
	v, ok := m[KeyKafkaKey]
	if !ok {
		return nil, false
	}
	return []byte(v), true
}

// Headers returns only the application headers, dropping transport-reserved keys.
func (m Metadata) Headers() Metadata {
	headers := make(Metadata, len(m))
	for k, v := range m {
		if IsReserved(k) {
			continue
		}
		headers[k] = v
	}
	return headers
}

// IsReserved reports whether key belongs to the transport rather than the application.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
