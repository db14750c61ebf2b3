package fileops

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

const chunkSize = 1024

// Head returns the first n lines of the file at path without reading past
// the chunk that contains the n-th line. A positive maxBytes caps how much is
// held in memory; exceeding it returns ErrTooLarge.
func Head(path string, n int, maxBytes int64) (string, error) {
	if n <= 0 {
		return "", nil
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	return head(file, n, chunkSize, maxBytes)
}

// Tail returns the last n lines of the file at path, reading backwards from
// the end in fixed-size chunks. maxBytes caps memory as for Head.
func Tail(path string, n int, maxBytes int64) (string, error) {
	if n <= 0 {
		return "", nil
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	return tail(file, info.Size(), n, chunkSize, maxBytes)
}

func head(r io.Reader, n, size int, maxBytes int64) (string, error) {
	var (
		lines   [][]byte
		pending []byte
		held    int64
	)
	chunk := make([]byte, size)

	for len(lines) < n {
		read, err := r.Read(chunk)
		pending = append(pending, chunk[:read]...)

		for len(lines) < n {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			lines = append(lines, pending[:idx])
			held += int64(idx)
			pending = pending[idx+1:]
		}
		if err := checkHeld(held, pending, len(lines) < n, maxBytes); err != nil {
			return "", err
		}

		if errors.Is(err, io.EOF) {
			if len(lines) < n && len(pending) > 0 {
				lines = append(lines, pending)
			}
			break
		}
		if err != nil {
			return "", err
		}
	}

	return string(bytes.Join(lines, []byte("\n"))), nil
}

func tail(r io.ReaderAt, fileSize int64, n, size int, maxBytes int64) (string, error) {
	if fileSize == 0 {
		return "", nil
	}

	var (
		lines [][]byte
		carry []byte
		held  int64
	)
	pos := fileSize
	first := true

	for len(lines) < n && pos > 0 {
		readSize := min(int64(size), pos)
		pos -= readSize

		chunk := make([]byte, readSize)
		if _, err := r.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}

		buf := append(chunk, carry...)
		if first {
			// A final newline terminates the last line rather than starting an
			// empty one.
			buf = bytes.TrimSuffix(buf, []byte("\n"))
			first = false
		}

		parts := bytes.Split(buf, []byte("\n"))
		if pos > 0 {
			// The first part may continue into the previous chunk.
			carry = parts[0]
			parts = parts[1:]
		} else {
			carry = nil
		}

		for i := len(parts) - 1; i >= 0 && len(lines) < n; i-- {
			lines = append(lines, parts[i])
			held += int64(len(parts[i]))
		}
		if err := checkHeld(held, carry, len(lines) < n, maxBytes); err != nil {
			return "", err
		}
	}

	slices.Reverse(lines)
	return string(bytes.Join(lines, []byte("\n"))), nil
}

// checkHeld fails once the collected lines, plus the partial line still
// needed, exceed maxBytes.
func checkHeld(held int64, partial []byte, wantMore bool, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	if wantMore {
		held += int64(len(partial))
	}
	if held > maxBytes {
		return fmt.Errorf("%w of %s", ErrTooLarge, FormatSize(maxBytes))
	}
	return nil
}
