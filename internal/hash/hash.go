// Package hash wraps the hash functions used to route keys to
// partitions and disk-hash slots.
package hash

import "github.com/cespare/xxhash/v2"

// SeriesKey computes the xxHash64 of a series key, used by the series
// file to route a key to its partition and to its Robin-Hood slot.
func SeriesKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// SeriesID hashes a series ID the same way, for the id→offset disk
// hash's slot placement.
func SeriesID(id uint64) uint64 {
	var buf [8]byte
	buf[0] = byte(id)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 24)
	buf[4] = byte(id >> 32)
	buf[5] = byte(id >> 40)
	buf[6] = byte(id >> 48)
	buf[7] = byte(id >> 56)

	return xxhash.Sum64(buf[:])
}
