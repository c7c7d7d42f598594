package config

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"io/fs"
)

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
