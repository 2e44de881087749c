package fileinfo

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// manifestHeader opens every CRMANIFEST body.
const manifestHeader = "CRMANIFEST\r\n\r\n"

// EncodeManifest serializes filenames, sorted ascending, as a CRMANIFEST
// body. Names are CRLF-separated with no trailing terminator.
func EncodeManifest(filenames []string) []byte {
	sorted := append([]string(nil), filenames...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	buf.WriteString(manifestHeader)
	buf.WriteString(strings.Join(sorted, "\r\n"))
	return buf.Bytes()
}

// DecodeManifest parses a CRMANIFEST body into its ascending filename list.
func DecodeManifest(data []byte) ([]string, error) {
	if !bytes.HasPrefix(data, []byte(manifestHeader)) {
		return nil, fmt.Errorf("%w: manifest missing CRMANIFEST header", ErrInvalidDescriptor)
	}
	rest := string(data[len(manifestHeader):])
	rest = strings.TrimSuffix(rest, "\r\n")
	if rest == "" {
		return nil, nil
	}
	names := strings.Split(rest, "\r\n")
	if !sort.StringsAreSorted(names) {
		return nil, fmt.Errorf("%w: manifest filenames not sorted", ErrInvalidDescriptor)
	}
	return names, nil
}
