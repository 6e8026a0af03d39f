package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/basekick-labs/bulkloader/internal/partitioner"
)

// DefaultIndexInterval samples every 128th index entry into the summary.
const DefaultIndexInterval = 128

// IndexEntry locates one partition. Position is the offset in the uncompressed
// Data.db stream.
type IndexEntry struct {
	Key      []byte
	Token    int64
	Position int64
}

func appendIndexEntry(b []byte, e IndexEntry) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(e.Key)))
	b = append(b, e.Key...)
	b = binary.BigEndian.AppendUint64(b, uint64(e.Token))
	b = binary.BigEndian.AppendUint64(b, uint64(e.Position))
	return b
}

// readIndexEntry decodes one entry and returns it with its encoded length.
func readIndexEntry(b []byte) (IndexEntry, int, error) {
	if len(b) < 2 {
		return IndexEntry{}, 0, corruptf("index entry: truncated key length")
	}
	keyLen := int(binary.BigEndian.Uint16(b))
	n := 2 + keyLen + 16
	if len(b) < n {
		return IndexEntry{}, 0, corruptf("index entry: need %d bytes, have %d", n, len(b))
	}
	return IndexEntry{
		Key:      b[2 : 2+keyLen],
		Token:    int64(binary.BigEndian.Uint64(b[2+keyLen:])),
		Position: int64(binary.BigEndian.Uint64(b[2+keyLen+8:])),
	}, n, nil
}

// SummaryEntry points at an Index.db entry.
type SummaryEntry struct {
	Key           []byte
	Token         int64
	IndexPosition int64
}

// Summary is the sparse in-memory index over Index.db.
type Summary struct {
	Interval   int
	Entries    []SummaryEntry
	First      SummaryEntry
	Last       SummaryEntry
	IndexBytes int64
}

// MarshalBinary encodes Summary.db: magic, uint32 interval, uint64 index length,
// uint32 entry count, the entries, then the first and last keys.
func (s *Summary) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 24+len(s.Entries)*32)
	b = append(b, summaryMagic...)
	b = binary.BigEndian.AppendUint32(b, uint32(s.Interval))
	b = binary.BigEndian.AppendUint64(b, uint64(s.IndexBytes))
	b = binary.BigEndian.AppendUint32(b, uint32(len(s.Entries)))
	for _, e := range s.Entries {
		b = appendIndexEntry(b, IndexEntry{Key: e.Key, Token: e.Token, Position: e.IndexPosition})
	}
	b = appendIndexEntry(b, IndexEntry{Key: s.First.Key, Token: s.First.Token, Position: s.First.IndexPosition})
	b = appendIndexEntry(b, IndexEntry{Key: s.Last.Key, Token: s.Last.Token, Position: s.Last.IndexPosition})
	return b, nil
}

// UnmarshalBinary decodes Summary.db.
func (s *Summary) UnmarshalBinary(b []byte) error {
	if len(b) < 20 || string(b[:4]) != summaryMagic {
		return corruptf("summary: bad magic")
	}
	s.Interval = int(binary.BigEndian.Uint32(b[4:8]))
	s.IndexBytes = int64(binary.BigEndian.Uint64(b[8:16]))
	count := int(binary.BigEndian.Uint32(b[16:20]))
	b = b[20:]

	read := func() (SummaryEntry, error) {
		e, n, err := readIndexEntry(b)
		if err != nil {
			return SummaryEntry{}, err
		}
		b = b[n:]
		return SummaryEntry{Key: e.Key, Token: e.Token, IndexPosition: e.Position}, nil
	}

	s.Entries = make([]SummaryEntry, 0, min(count, len(b)/18))
	for range count {
		e, err := read()
		if err != nil {
			return err
		}
		s.Entries = append(s.Entries, e)
	}
	var err error
	if s.First, err = read(); err != nil {
		return err
	}
	if s.Last, err = read(); err != nil {
		return err
	}
	if len(b) != 0 {
		return corruptf("summary: %d trailing bytes", len(b))
	}
	return nil
}

// indexRange returns the Index.db byte range that can hold (token, key):
// from the last sampled entry not greater than it up to the next sampled entry.
// ok is false when the key falls outside [First, Last].
func (s *Summary) indexRange(token int64, key []byte) (start, end int64, ok bool) {
	if len(s.Entries) == 0 {
		return 0, 0, false
	}
	if partitioner.CompareKeys(token, key, s.First.Token, s.First.Key) < 0 ||
		partitioner.CompareKeys(token, key, s.Last.Token, s.Last.Key) > 0 {
		return 0, 0, false
	}
	i := sort.Search(len(s.Entries), func(i int) bool {
		e := s.Entries[i]
		return partitioner.CompareKeys(e.Token, e.Key, token, key) > 0
	}) - 1
	if i < 0 {
		return 0, 0, false
	}
	start = s.Entries[i].IndexPosition
	end = s.IndexBytes
	if i+1 < len(s.Entries) {
		end = s.Entries[i+1].IndexPosition
	}
	return start, end, true
}
