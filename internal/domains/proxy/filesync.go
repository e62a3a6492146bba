package proxy

import (
	"fmt"
	"io"
	"os"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// hashBlockSize is the fixed block granularity of the delta-sync protocol.
const hashBlockSize = 256 * 1024

// fileHashes returns the block-level content hashes of path, or
// (nil, nil) when the file does not exist so the caller can fall back to a
// full upload.
func fileHashes(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	blocks := make([]string, 0)
	var total int64
	buf := make([]byte, hashBlockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			sum := blake2b.Sum256(buf[:n])
			blocks = append(blocks, base58.Encode(sum[:]))
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"blockSize": hashBlockSize,
		"totalSize": total,
		"blocks":    blocks,
	}, nil
}

// deltaBlock is one reconstruction instruction: copy a range of the old
// file, or insert the next size bytes of the literal stream.
type deltaBlock struct {
	copyBlock bool
	start     int64
	size      int64
}

func parseDelta(raw []any) ([]deltaBlock, error) {
	blocks := make([]deltaBlock, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("delta block %d is not a map", i)
		}
		size, err := deltaInt(m, "size")
		if err != nil {
			return nil, fmt.Errorf("delta block %d: %w", i, err)
		}
		b := deltaBlock{size: size}
		switch m["type"] {
		case "copy":
			start, err := deltaInt(m, "start")
			if err != nil {
				return nil, fmt.Errorf("delta block %d: %w", i, err)
			}
			b.copyBlock = true
			b.start = start
		case "insert":
		default:
			return nil, fmt.Errorf("delta block %d has unknown type %v", i, m["type"])
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func deltaInt(m map[string]any, key string) (int64, error) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("%s is not an integer", key)
	}
}

// applyDelta rebuilds path from copy/insert blocks plus the trailing
// literal stream. It reports (false, nil) when the target does not exist.
func applyDelta(path string, blocks []deltaBlock, literal io.Reader) (bool, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer src.Close()

	tmp := path + ".sync"
	dst, err := os.Create(tmp)
	if err != nil {
		return false, err
	}

	write := func() error {
		for i, b := range blocks {
			if b.copyBlock {
				if _, err := dst.ReadFrom(io.NewSectionReader(src, b.start, b.size)); err != nil {
					return err
				}
				continue
			}
			if literal == nil {
				return fmt.Errorf("delta block %d inserts %d bytes but no literal stream was sent", i, b.size)
			}
			if _, err := io.CopyN(dst, literal, b.size); err != nil {
				return err
			}
		}
		// Anything left in the literal stream is appended verbatim.
		if literal != nil {
			if _, err := io.Copy(dst, literal); err != nil {
				return err
			}
		}
		return nil
	}

	if err := write(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return false, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return false, err
	}
	src.Close()
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}
