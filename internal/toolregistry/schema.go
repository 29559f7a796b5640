package toolregistry

import "bytes"

func asJSONReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
