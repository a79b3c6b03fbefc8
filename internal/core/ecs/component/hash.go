package component

import "github.com/cespare/xxhash/v2"

// HashName folds the 64-bit xxhash of a type name into a TypeHash.
func HashName(name string) TypeHash {
	h := xxhash.Sum64String(name)
	return TypeHash(uint32(h) ^ uint32(h>>32))
}
