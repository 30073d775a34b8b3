package models

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Data is an opaque event or request payload. The core never requires
// schema knowledge of it; only the transformer inspects paths inside.
type Data map[string]interface{}

var _ fmt.Stringer = &Data{}
var _ encoding.BinaryMarshaler = &Data{}
var _ encoding.BinaryUnmarshaler = &Data{}

func (d *Data) String() string {
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(data)
}

func (d *Data) MarshalBinary() ([]byte, error) {
	return json.Marshal(d)
}

func (d *Data) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

type MapStringString map[string]string

var _ encoding.BinaryMarshaler = &MapStringString{}
var _ encoding.BinaryUnmarshaler = &MapStringString{}

func (m *MapStringString) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

func (m *MapStringString) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, m)
}

type Headers = MapStringString
