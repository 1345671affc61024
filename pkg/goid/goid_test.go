package goid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGID(t *testing.T) {
	main := GetGID()
	assert.NotZero(t, main)
	assert.Equal(t, main, GetGID(), "stable within a goroutine")

	var other uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = GetGID()
	}()
	wg.Wait()
	assert.NotZero(t, other)
	assert.NotEqual(t, main, other)
}

func TestString(t *testing.T) {
	assert.Regexp(t, `^[1-9][0-9]*$`, String())
}
