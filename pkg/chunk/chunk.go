// Package chunk splits a byte stream into content-addressed Chunks,
// either at fixed boundaries or at content-defined boundaries chosen
// by a rolling hash. Both strategies are restartable: the same bytes
// with the same parameters always produce the same boundaries and the
// same digests.
package chunk

import (
	"bufio"
	"io"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/digest"
)

const (
	// DefaultFixedSize is the default Fixed-strategy chunk size.
	DefaultFixedSize = 4 * 1024 * 1024
	// MinFixedSize is the smallest allowed Fixed-strategy chunk size.
	MinFixedSize = 1024
	// MaxFixedSize is the largest allowed Fixed-strategy chunk size.
	MaxFixedSize = 64 * 1024 * 1024

	// DefaultCDCMin is the default CDC minimum chunk size.
	DefaultCDCMin = 512 * 1024
	// DefaultCDCAvg is the default CDC average chunk size.
	DefaultCDCAvg = 1024 * 1024
	// DefaultCDCMax is the default CDC maximum chunk size.
	DefaultCDCMax = 4 * 1024 * 1024

	// readBufSize is the size of the read buffer used to pull bytes
	// from the source reader between boundary checks.
	readBufSize = 256 * 1024
)

// Chunk is one piece of a chunked byte stream: its content digest, the
// owned byte buffer, its size, and its offset within the original
// stream.
type Chunk struct {
	Digest digest.Digest
	Data   []byte
	Size   int
	Offset int64
}

// Strategy selects how chunk boundaries are chosen.
type Strategy int

const (
	// Fixed emits chunks of exactly Config.FixedSize bytes, except the
	// trailing chunk.
	Fixed Strategy = iota
	// ContentDefined emits chunks at rolling-hash boundaries bounded
	// by Config.MinSize/AvgSize/MaxSize.
	ContentDefined
)

// Config parameterizes a Chunker. DefaultConfig returns a fully
// populated Config; zero-valued fields of any other Config are not
// filled in, and Validate rejects them for the selected strategy.
type Config struct {
	Strategy  Strategy
	FixedSize int
	MinSize   int
	AvgSize   int
	MaxSize   int
}

// DefaultConfig returns the reference defaults: Fixed at 4 MiB.
func DefaultConfig() Config {
	return Config{
		Strategy:  Fixed,
		FixedSize: DefaultFixedSize,
		MinSize:   DefaultCDCMin,
		AvgSize:   DefaultCDCAvg,
		MaxSize:   DefaultCDCMax,
	}
}

// Validate checks the configured sizes against spec-mandated ranges.
func (c Config) Validate() error {
	switch c.Strategy {
	case Fixed:
		if c.FixedSize < MinFixedSize || c.FixedSize > MaxFixedSize {
			return apperr.New(apperr.KindInvalidInput, "fixed chunk size out of range", nil)
		}
	case ContentDefined:
		if c.MinSize <= 0 || c.AvgSize <= c.MinSize || c.MaxSize <= c.AvgSize {
			return apperr.New(apperr.KindInvalidInput, "cdc sizes must satisfy min < avg < max", nil)
		}
	default:
		return apperr.New(apperr.KindInvalidInput, "unknown chunking strategy", nil)
	}
	return nil
}

// Chunker produces a lazy, finite sequence of Chunks from a reader.
// Next returns io.EOF once the stream is exhausted; any other error is
// either the Validate error of an invalid Config or the reader's own
// error, propagated verbatim.
type Chunker struct {
	cfg    Config
	r      *bufio.Reader
	offset int64
	gear   *gearTable
	done   bool
}

// New returns a Chunker reading from r under cfg. cfg is validated;
// an invalid cfg is reported on the first call to Next.
func New(r io.Reader, cfg Config) *Chunker {
	return &Chunker{
		cfg:  cfg,
		r:    bufio.NewReaderSize(r, readBufSize),
		gear: defaultGearTable,
	}
}

// Next returns the next Chunk, or io.EOF when the stream is
// exhausted. Every non-EOF error is fatal; the Chunker must not be
// reused afterward.
func (c *Chunker) Next() (*Chunk, error) {
	if c.done {
		return nil, io.EOF
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	var buf []byte
	var err error
	switch c.cfg.Strategy {
	case Fixed:
		buf, err = c.nextFixed()
	case ContentDefined:
		buf, err = c.nextCDC()
	}
	if err != nil {
		return nil, err
	}
	if buf == nil {
		c.done = true
		return nil, io.EOF
	}

	ck := &Chunk{
		Digest: digest.Bytes(buf),
		Data:   buf,
		Size:   len(buf),
		Offset: c.offset,
	}
	c.offset += int64(len(buf))
	return ck, nil
}

// nextFixed reads exactly cfg.FixedSize bytes, or fewer on the final,
// trailing read. Returns (nil, nil) at clean end of stream.
func (c *Chunker) nextFixed() ([]byte, error) {
	buf := make([]byte, c.cfg.FixedSize)
	n, err := io.ReadFull(c.r, buf)
	if n == 0 {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	c.done = err == io.EOF || err == io.ErrUnexpectedEOF
	return buf[:n], nil
}

// nextCDC reads until a gear-hash rolling boundary fires inside
// [MinSize, MaxSize), or forcibly at MaxSize, or at end of stream.
// Returns (nil, nil) at clean end of stream with nothing buffered.
func (c *Chunker) nextCDC() ([]byte, error) {
	buf := make([]byte, 0, c.cfg.MaxSize)
	var hash uint64
	mask := boundaryMask(c.cfg.AvgSize)

	for {
		b, err := c.r.ReadByte()
		if err == io.EOF {
			if len(buf) == 0 {
				return nil, nil
			}
			return buf, nil
		}
		if err != nil {
			return nil, err
		}

		buf = append(buf, b)
		hash = (hash << 1) + c.gear.table[b]

		if len(buf) >= c.cfg.MinSize && hash&mask == 0 {
			return buf, nil
		}
		if len(buf) >= c.cfg.MaxSize {
			return buf, nil
		}
	}
}

// boundaryMask picks a bitmask whose popcount of zero low bits makes
// the expected run length before a hit approximately avgSize, the
// same "power of two nearest average" trick restic and most gear-hash
// chunkers use.
func boundaryMask(avgSize int) uint64 {
	bits := 0
	for n := avgSize; n > 1; n >>= 1 {
		bits++
	}
	if bits >= 64 {
		bits = 63
	}
	return (uint64(1) << uint(bits)) - 1
}

// All drains a Chunker into a slice, for callers that want the whole
// chunk list instead of streaming it. Useful in tests and for small
// files in pkg/backup.
func All(r io.Reader, cfg Config) ([]*Chunk, error) {
	ck := New(r, cfg)
	var out []*Chunk
	for {
		c, err := ck.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

// Reassemble concatenates chunk data back into a single buffer,
// verifying each chunk's digest before appending it.
func Reassemble(chunks []*Chunk) ([]byte, error) {
	var total int
	for _, c := range chunks {
		total += c.Size
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		if digest.Bytes(c.Data) != c.Digest {
			return nil, apperr.New(apperr.KindIntegrityFailed, "chunk digest mismatch during reassembly", nil)
		}
		out = append(out, c.Data...)
	}
	return out, nil
}
