package sharding

import (
	"hash/crc32"
)

// DefaultPartitions is the partition count of a topic unless configured otherwise.
const DefaultPartitions = 8

// Partition calculates the deterministic partition for a partition key.
// Events with equal keys always land on the same partition, which is what
// preserves their relative order.
func Partition(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int(checksum % uint32(partitions))
}
