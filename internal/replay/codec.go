package replay

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileExt is the extension of replay files written by SaveFile.
const FileExt = ".bmrp"

// Encode writes rec as gzip-compressed JSON.
func Encode(w io.Writer, rec Record) error {
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(rec); err != nil {
		gz.Close()
		return fmt.Errorf("encode replay: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush replay: %w", err)
	}
	return nil
}

// Decode reads a record written by Encode.
func Decode(r io.Reader) (Record, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Record{}, fmt.Errorf("decompress replay: %w", err)
	}
	defer gz.Close()

	var rec Record
	if err := json.NewDecoder(gz).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode replay: %w", err)
	}
	return rec, nil
}

// Marshal returns the compressed blob stored in the database.
func Marshal(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a blob produced by Marshal.
func Unmarshal(data []byte) (Record, error) {
	return Decode(bytes.NewReader(data))
}

// SaveFile writes rec to dir/name.bmrp through a temporary file and returns
// the final path.
func SaveFile(dir, name string, rec Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create replay dir: %w", err)
	}
	path := filepath.Join(dir, name+FileExt)

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp replay: %w", err)
	}
	tmpName := tmp.Name()
	if err := Encode(tmp, rec); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp replay: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename replay: %w", err)
	}
	return path, nil
}

// LoadFile reads a replay file.
func LoadFile(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
