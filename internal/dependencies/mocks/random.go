package mocks

import (
	"github.com/mcoot/mpserver/internal/dependencies/random"
)

// MockRandom returns queued values, falling back to zero values once a
// queue is exhausted
type MockRandom struct {
	IntnResults []int
	intnIndex   int

	Uint32Results []uint32
	uint32Index   int

	StringResults []string
	stringIndex   int
}

var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

func (r *MockRandom) Intn(n int) int {
	if r.intnIndex >= len(r.IntnResults) {
		return 0
	}
	result := r.IntnResults[r.intnIndex]
	r.intnIndex++
	return result
}

func (r *MockRandom) Uint32() uint32 {
	if r.uint32Index >= len(r.Uint32Results) {
		return 0
	}
	result := r.Uint32Results[r.uint32Index]
	r.uint32Index++
	return result
}

func (r *MockRandom) String(length int, alphabet string) string {
	if r.stringIndex >= len(r.StringResults) {
		return ""
	}
	result := r.StringResults[r.stringIndex]
	r.stringIndex++
	return result
}

// QueueIntn adds values to the Intn result queue
func (r *MockRandom) QueueIntn(values ...int) {
	r.IntnResults = append(r.IntnResults, values...)
}

// QueueUint32 adds values to the Uint32 result queue
func (r *MockRandom) QueueUint32(values ...uint32) {
	r.Uint32Results = append(r.Uint32Results, values...)
}

// QueueString adds values to the String result queue
func (r *MockRandom) QueueString(values ...string) {
	r.StringResults = append(r.StringResults, values...)
}
