package media

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// Digest returns the hex MD5 checksum of data. It identifies exact byte
// copies only; near-duplicates are the perceptual hasher's job.
func Digest(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// DigestStream computes the MD5 checksum from a reader
func DigestStream(r io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// ReadFile loads a media file from disk and classifies it.
func ReadFile(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Classify(data)
}
