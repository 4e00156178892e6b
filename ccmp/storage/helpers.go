package storage

import (
	"encoding/hex"

	"github.com/erigontech/ccmp-relay/ccmp/msgqueue"
)

func decodeHexPrincipal(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func newQueueFrom[T any](items []T) *msgqueue.FIFOQueue[T] {
	q := msgqueue.NewFIFOQueue[T]()
	for _, item := range items {
		q.Push(item)
	}
	return q
}
