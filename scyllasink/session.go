package scyllasink

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gocql/gocql"
	"github.com/pierrec/lz4/v4"
)

// newSession builds a *gocql.Session pointed at cfg.Hostname, authenticated
// with cfg.Username/cfg.Password, scoped to cfg.Keyspace, with wire
// compression fixed to LZ4 (spec §4.5, §6.2: "Compression is fixed to LZ4
// for the session"). gocql ships only a Snappy compressor, so lz4Compressor
// below adapts github.com/pierrec/lz4/v4 to gocql.Compressor - the same
// package the franz-go Kafka client in the example pack uses for its own
// frame compression.
func newSession(cfg Config) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.Hostname)
	cluster.Keyspace = cfg.Keyspace
	cluster.Compressor = newLZ4Compressor()
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	cluster.Consistency = gocql.Quorum

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scyllasink: failed to build session: %w", err)
	}
	return session, nil
}

// lz4Compressor adapts pierrec/lz4's block compressor to gocql.Compressor
// using the exact framing the Cassandra/ScyllaDB native protocol requires
// for LZ4-compressed frames: a 4-byte **big-endian** uncompressed-length
// prefix immediately followed by a raw LZ4 block (not the pierrec/lz4 frame
// format, which carries its own magic number and would not be understood by
// the server's decompressor).
type lz4Compressor struct {
	hashTablePool sync.Pool
}

func newLZ4Compressor() *lz4Compressor {
	return &lz4Compressor{
		hashTablePool: sync.Pool{
			New: func() any {
				t := make([]int, 1<<16)
				return &t
			},
		},
	}
}

func (lz4Compressor) Name() string {
	return "lz4"
}

func (c *lz4Compressor) Encode(data []byte) ([]byte, error) {
	hashTable := c.hashTablePool.Get().(*[]int)
	defer c.hashTablePool.Put(hashTable)

	bound := lz4.CompressBlockBound(len(data))
	out := make([]byte, 4+bound)
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))

	n, err := lz4.CompressBlock(data, out[4:], *hashTable)
	if err != nil {
		return nil, fmt.Errorf("scyllasink: lz4 compress: %w", err)
	}
	if n == 0 {
		// lz4.CompressBlock declines to emit a block rather than expand
		// incompressible input. The wire format has no escape for "stored
		// raw" - every frame must be a genuine LZ4 block - so fall back to
		// a literal-only block, which the format permits as the block's
		// final (and here, only) sequence.
		n = copy(out[4:], lz4StoreBlock(data))
	}
	return out[:4+n], nil
}

func (lz4Compressor) Decode(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("scyllasink: lz4 frame too short (%d bytes)", len(data))
	}
	uncompressedLen := binary.BigEndian.Uint32(data[:4])
	body := data[4:]

	out := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("scyllasink: lz4 decompress: %w", err)
	}
	if uint32(n) != uncompressedLen {
		return nil, fmt.Errorf("scyllasink: lz4 decompressed %d bytes, expected %d", n, uncompressedLen)
	}
	return out, nil
}

// lz4StoreBlock renders data as a single literal-only LZ4 block sequence: a
// token whose literal-length nibble (with overflow bytes if length >= 15)
// precedes the literal bytes verbatim, no match. The LZ4 block format
// requires the final sequence of a block to be literals-only with no
// trailing match, which makes this encoding legal (and trivially
// decodable) on its own for any input, not just block tails.
func lz4StoreBlock(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/255+2)
	litLen := len(data)
	if litLen < 15 {
		out = append(out, byte(litLen<<4))
	} else {
		out = append(out, 0xF0)
		n := litLen - 15
		for n >= 255 {
			out = append(out, 255)
			n -= 255
		}
		out = append(out, byte(n))
	}
	return append(out, data...)
}
